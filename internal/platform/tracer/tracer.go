// Package tracer is a small tracing abstraction over OpenTelemetry used by the
// resilient store adapter and the token service. NoopTracer serves tests.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Span represents an active trace span. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute    { return Attribute{Key: key, Value: value} }
func Bool(key string, value bool) Attribute { return Attribute{Key: key, Value: value} }
func Int(key string, value int) Attribute   { return Attribute{Key: key, Value: value} }

// HashEmail returns a short digest of the normalized email so traces can be
// correlated without carrying the address.
func HashEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:8])
}

// Span names.
const (
	SpanStoreGet       = "store.get"
	SpanStoreSet       = "store.set"
	SpanStoreUpdate    = "store.update"
	SpanStoreDelete    = "store.delete"
	SpanStoreSync      = "store.sync_fallback"
	SpanDetectBlocking = "store.detect_blocking"
	SpanTokenIssue     = "token.issue"
	SpanTokenVerify    = "token.verify"
)

// Attribute keys.
const (
	AttrCollection = "store.collection"
	AttrAttempt    = "store.attempt"
	AttrFallback   = "store.fallback"
	AttrBlocking   = "store.blocking"
	AttrEmailHash  = "admin.email_hash"
	AttrOutcome    = "outcome"
)

// Event names.
const (
	EventRetry          = "store.retry"
	EventFallbackServed = "store.fallback_served"
)

// NoopTracer is a tracer that does nothing.
type NoopTracer struct{}

func NewNoop() *NoopTracer { return &NoopTracer{} }

// Start returns the context unchanged and a no-op span.
func (t *NoopTracer) Start(ctx context.Context, _ string, _ ...Attribute) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error)                     {}
func (noopSpan) SetAttributes(...Attribute)    {}
func (noopSpan) AddEvent(string, ...Attribute) {}

var (
	_ Tracer = (*NoopTracer)(nil)
	_ Span   = noopSpan{}
)
