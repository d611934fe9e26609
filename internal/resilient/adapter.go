// Package resilient wraps the remote document store with retries and a local
// fallback used while the store is blocked or unreachable.
package resilient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clubadmin/internal/docstore"
	"clubadmin/internal/kv"
	"clubadmin/internal/platform/metrics"
	"clubadmin/internal/platform/nethealth"
	"clubadmin/internal/platform/tracer"
	dErrors "clubadmin/pkg/domain-errors"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Source reports which path served an operation.
type Source int

const (
	SourceRemote Source = iota
	SourceFallback
)

func (s Source) String() string {
	if s == SourceFallback {
		return "fallback"
	}
	return "remote"
}

// Adapter performs document operations against the remote store, retrying
// with linear backoff and degrading to namespaced local records.
type Adapter struct {
	remote docstore.Store
	local  kv.Store
	health *nethealth.Health

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer

	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time

	httpClient     *http.Client
	checkEndpoints []string
	checkTimeout   time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

func WithTracer(t tracer.Tracer) Option {
	return func(a *Adapter) { a.tracer = t }
}

// WithRetry sets the attempt budget and the backoff base.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(a *Adapter) {
		if maxAttempts > 0 {
			a.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			a.baseDelay = baseDelay
		}
	}
}

// WithSleep replaces the backoff wait; tests use it to record delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Adapter) { a.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithReachabilityChecks sets the endpoints checked by DetectBlockingExtensions.
func WithReachabilityChecks(client *http.Client, endpoints []string, timeout time.Duration) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
		a.checkEndpoints = endpoints
		if timeout > 0 {
			a.checkTimeout = timeout
		}
	}
}

// New builds an Adapter. health is shared with every component that needs to
// know whether the remote store is usable.
func New(remote docstore.Store, local kv.Store, health *nethealth.Health, opts ...Option) *Adapter {
	a := &Adapter{
		remote:       remote,
		local:        local,
		health:       health,
		maxAttempts:  DefaultMaxAttempts,
		baseDelay:    DefaultBaseDelay,
		sleep:        sleepContext,
		now:          time.Now,
		httpClient:   &http.Client{},
		checkTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.tracer == nil {
		a.tracer = tracer.NewNoop()
	}
	return a
}

// Health returns the shared network health object.
func (a *Adapter) Health() *nethealth.Health {
	return a.health
}

// PerformWithFallback runs primary with retries and falls back when the
// remote path is skipped or exhausted.
//
// Primary is skipped while health reports degraded. A blocking failure marks
// the store unavailable and stops retrying at once. Definitive store answers
// (not found, invalid argument) are returned as-is without retry or fallback.
// A fallback error is returned unchanged; with no fallback the result is a
// CodeStoreUnavailable error.
func PerformWithFallback[T any](
	ctx context.Context,
	a *Adapter,
	op string,
	primary func(ctx context.Context) (T, error),
	fallback func(ctx context.Context) (T, error),
) (T, Source, error) {
	var zero T

	if a.health.Degraded() {
		a.logger.WarnContext(ctx, "remote store degraded, using fallback immediately", "op", op)
		return runFallback(ctx, a, op, fallback, nil)
	}

	var failures []error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		result, err := primary(ctx)
		if err == nil {
			a.metrics.IncStoreAttempt(op, "ok")
			return result, SourceRemote, nil
		}
		failures = append(failures, err)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, SourceRemote, dErrors.Wrap(ctxErr, dErrors.CodeTimeout, "store operation cancelled")
		}
		if definitive := definitiveError(err); definitive != nil {
			a.metrics.IncStoreAttempt(op, "definitive")
			return zero, SourceRemote, definitive
		}
		if IsBlockingError(err) {
			a.metrics.IncStoreAttempt(op, "blocked")
			if a.health.MarkUnavailable() {
				a.metrics.IncBlockingDetected()
			}
			a.logger.WarnContext(ctx, "blocking failure, switching to fallback",
				"op", op,
				"attempt", attempt,
				"error", err,
			)
			break
		}

		a.metrics.IncStoreAttempt(op, "error")
		a.logger.WarnContext(ctx, "remote store attempt failed",
			"op", op,
			"attempt", attempt,
			"max_attempts", a.maxAttempts,
			"error", err,
		)
		if attempt < a.maxAttempts {
			if err := a.sleep(ctx, time.Duration(attempt)*a.baseDelay); err != nil {
				return zero, SourceRemote, dErrors.Wrap(err, dErrors.CodeTimeout, "store operation cancelled")
			}
		}
	}

	return runFallback(ctx, a, op, fallback, errors.Join(failures...))
}

func runFallback[T any](
	ctx context.Context,
	a *Adapter,
	op string,
	fallback func(ctx context.Context) (T, error),
	cause error,
) (T, Source, error) {
	var zero T
	if fallback == nil {
		if cause == nil {
			cause = errors.New("remote store skipped while degraded")
		}
		return zero, SourceRemote, dErrors.Wrap(cause, dErrors.CodeStoreUnavailable, "remote store unavailable and no fallback configured")
	}

	result, err := fallback(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "fallback operation failed", "op", op, "error", err, "cause", cause)
		return zero, SourceFallback, err
	}
	a.metrics.IncStoreFallback(op)
	return result, SourceFallback, nil
}

// definitiveError converts answers that retrying cannot change.
func definitiveError(err error) error {
	switch docstore.CodeOf(err) {
	case docstore.CodeNotFound:
		return dErrors.Wrap(err, dErrors.CodeNotFound, "document not found")
	case docstore.CodeInvalidArgument:
		return dErrors.Wrap(err, dErrors.CodeValidation, "document rejected by store")
	}
	return nil
}

func validateCollection(collection string) error {
	if collection == "" || strings.Contains(collection, "_") {
		return dErrors.New(dErrors.CodeValidation, "collection name must be non-empty and contain no underscore")
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
