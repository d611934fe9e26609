// Package token issues and verifies the one-time codes admins confirm after
// federated sign-in. Records persist through the resilient store adapter, so
// issuance and verification keep working on local fallback while the remote
// store is unreachable.
package token

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"

	"clubadmin/internal/admin/email"
	"clubadmin/internal/admin/models"
	"clubadmin/internal/docstore"
	"clubadmin/internal/platform/metrics"
	"clubadmin/internal/platform/tracer"
	"clubadmin/internal/resilient"
	dErrors "clubadmin/pkg/domain-errors"
	request "clubadmin/pkg/platform/middleware/request"
	psync "clubadmin/pkg/platform/sync"
)

// Modes.
const (
	ModeRandom = "random"
	// ModeStatic shares one configured token between all admins. Legacy and insecure.
	ModeStatic = "static"
)

const (
	DefaultExpiry = 10 * time.Minute
	// MaxAttempts is the verify count at which a record locks.
	MaxAttempts = 5
	Subject     = "Your OTP Code"
)

// RecordStore is the persistence the service needs. *resilient.Adapter satisfies it.
type RecordStore interface {
	Get(ctx context.Context, collection, id string) (docstore.Document, resilient.Source, error)
	Set(ctx context.Context, collection, id string, doc docstore.Document, merge bool) (resilient.Source, error)
}

// IssueResult reports the outcome of Issue.
type IssueResult struct {
	// Sent is true only when the email endpoint accepted the message.
	Sent bool
	// Degraded is true when the record was written to local fallback.
	Degraded bool
}

// Service issues and verifies one-time tokens.
type Service struct {
	store       RecordStore
	sender      email.Sender
	hasher      Hasher
	mode        string
	staticToken string
	expiry      time.Duration
	signature   string
	generate    func() (string, error)
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      tracer.Tracer
	// records serializes record updates per address so concurrent verifies
	// from several tabs count every attempt.
	records *psync.ShardedMutex
}

type Option func(*Service)

// WithStaticToken switches the service to the legacy shared-token mode.
func WithStaticToken(token string) Option {
	return func(s *Service) {
		s.mode = ModeStatic
		s.staticToken = token
	}
}

func WithHasher(h Hasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

func WithExpiry(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithSignature sets the closing line of issued emails.
func WithSignature(signature string) Option {
	return func(s *Service) {
		s.signature = signature
	}
}

// WithGenerator replaces the random code generator.
func WithGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		if gen != nil {
			s.generate = gen
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func New(store RecordStore, sender email.Sender, opts ...Option) (*Service, error) {
	if store == nil || sender == nil {
		return nil, fmt.Errorf("store and sender are required")
	}
	s := &Service{
		store:     store,
		sender:    sender,
		hasher:    SHA256Hasher{},
		mode:      ModeRandom,
		expiry:    DefaultExpiry,
		signature: "Thanks,\nClub Admin",
		generate:  GenerateCode,
		now:       time.Now,
		tracer:    tracer.NewNoop(),
		records:   psync.NewShardedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.mode == ModeStatic {
		if s.staticToken == "" {
			return nil, fmt.Errorf("static token mode requires a token")
		}
		s.logger.Warn("token service running in static mode: every admin shares one login token")
	}
	return s, nil
}

// Mode returns the configured token mode.
func (s *Service) Mode() string { return s.mode }

// GenerateCode returns a uniformly random 6-digit code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Key returns the record id for an email: the URL-encoded lower-cased address.
func Key(addr string) string {
	return url.QueryEscape(models.NormalizeEmail(addr))
}

// Issue creates a fresh token record for addr, replacing any previous one, and
// emails the code. Sent is true only if the email endpoint accepted the message;
// on delivery failure the record still exists and a resend may follow.
func (s *Service) Issue(ctx context.Context, addr, name string) (*IssueResult, error) {
	addr = models.NormalizeEmail(addr)
	if !email.IsValidEmail(addr) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid email address")
	}
	ctx, span := s.tracer.Start(ctx, tracer.SpanTokenIssue, tracer.String(tracer.AttrEmailHash, tracer.HashEmail(addr)))
	result, err := s.issue(ctx, addr, name)
	span.SetAttributes(tracer.String(tracer.AttrOutcome, outcomeOf(err)))
	span.End(err)
	return result, err
}

func (s *Service) issue(ctx context.Context, addr, name string) (*IssueResult, error) {
	code := s.staticToken
	if s.mode == ModeRandom {
		var err error
		if code, err = s.generate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate token")
		}
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash token")
	}

	now := s.now()
	record := models.TokenRecord{
		TokenHash:  hash,
		Email:      addr,
		ExpiryTime: now.Add(s.expiry).UnixMilli(),
		CreatedAt:  now.UnixMilli(),
		Mode:       s.mode,
	}
	var src resilient.Source
	err = s.records.With(addr, func() error {
		var saveErr error
		src, saveErr = s.save(ctx, addr, record)
		return saveErr
	})
	if err != nil {
		return nil, err
	}
	result := &IssueResult{Degraded: src == resilient.SourceFallback}

	if name == "" {
		name = email.DeriveName(addr)
	}
	sendResult, err := s.sender.Send(ctx, email.Message{
		To:      addr,
		Name:    name,
		Subject: Subject,
		Body:    s.body(name, code),
	})
	if err == nil && (sendResult == nil || !sendResult.Accepted) {
		err = dErrors.New(dErrors.CodeEmailDelivery, "email endpoint did not accept the message")
	}
	if err != nil {
		s.logger.WarnContext(ctx, "token email not delivered",
			"email_hash", tracer.HashEmail(addr),
			"degraded", result.Degraded,
			"error", err,
		)
		return result, dErrors.Wrap(err, dErrors.CodeEmailDelivery, "failed to send sign-in code")
	}

	result.Sent = true
	s.metrics.IncTokenIssued(s.mode)
	s.logAudit(ctx, "admin_token_issued",
		"email_hash", tracer.HashEmail(addr),
		"mode", s.mode,
		"degraded", result.Degraded,
	)
	return result, nil
}

func (s *Service) body(name, code string) string {
	minutes := int(s.expiry.Round(time.Minute) / time.Minute)
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	if s.mode == ModeStatic {
		b.WriteString("A sign-in to the admin console was requested for this address.\n")
		b.WriteString("Enter the admin login token issued by your club administrator to continue.\n")
	} else {
		fmt.Fprintf(&b, "Your OTP code is: %s\nThis code is valid for %d minutes.\n", code, minutes)
	}
	b.WriteString("\nIf you did not request this, you can ignore this email.\n\n")
	b.WriteString(s.signature)
	return b.String()
}

// Verify checks input against the record for addr. Checks run in order:
// missing, used, expired, locked out, mismatch. Every check past expiry
// counts an attempt; success consumes the record.
func (s *Service) Verify(ctx context.Context, addr, input string) error {
	addr = models.NormalizeEmail(addr)
	ctx, span := s.tracer.Start(ctx, tracer.SpanTokenVerify, tracer.String(tracer.AttrEmailHash, tracer.HashEmail(addr)))
	err := s.records.With(addr, func() error {
		return s.verify(ctx, addr, strings.TrimSpace(input))
	})
	outcome := outcomeOf(err)
	span.SetAttributes(tracer.String(tracer.AttrOutcome, outcome))
	span.End(err)
	s.metrics.IncTokenVerification(outcome)
	return err
}

func (s *Service) verify(ctx context.Context, addr, input string) error {
	doc, _, err := s.store.Get(ctx, models.CollectionTokens, Key(addr))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return dErrors.New(dErrors.CodeTokenNotFound, "code not found or expired, request a new one")
		}
		return err
	}
	var record models.TokenRecord
	if err := docstore.Decode(doc, &record); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "corrupt token record")
	}

	if record.Used {
		return dErrors.New(dErrors.CodeTokenAlreadyUsed, "this code has already been used")
	}
	if record.Expired(s.now()) {
		return dErrors.New(dErrors.CodeTokenExpired, "code has expired, request a new one")
	}

	record.Attempts++
	if record.Attempts > MaxAttempts {
		record.Used = true
		if _, err := s.save(ctx, addr, record); err != nil {
			return err
		}
		s.logAudit(ctx, "admin_token_lockout", "email_hash", tracer.HashEmail(addr), "attempts", record.Attempts)
		return dErrors.New(dErrors.CodeTokenLockout, "too many incorrect attempts, request a new code")
	}

	if input == "" || !s.hasher.Matches(record.TokenHash, input) {
		if _, err := s.save(ctx, addr, record); err != nil {
			return err
		}
		return dErrors.New(dErrors.CodeInvalidToken, "invalid code")
	}

	record.Used = true
	if _, err := s.save(ctx, addr, record); err != nil {
		return err
	}
	s.logAudit(ctx, "admin_token_verified", "email_hash", tracer.HashEmail(addr), "attempts", record.Attempts)
	return nil
}

// save writes the whole record so a fallback copy is always complete.
func (s *Service) save(ctx context.Context, addr string, record models.TokenRecord) (resilient.Source, error) {
	doc, err := docstore.Encode(record)
	if err != nil {
		return resilient.SourceRemote, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode token record")
	}
	src, err := s.store.Set(ctx, models.CollectionTokens, Key(addr), doc, false)
	if err != nil {
		return src, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to persist token record")
	}
	return src, nil
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := request.GetRequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(dErrors.CodeOf(err))
}
