package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clubadmin/internal/admin/models"
	"clubadmin/internal/admin/session"
	"clubadmin/internal/docstore"
	"clubadmin/internal/kv"
	"clubadmin/internal/platform/metrics"
)

// TokenStore exposes the remote token collection.
type TokenStore interface {
	List(ctx context.Context, collection string) (map[string]docstore.Document, error)
	Delete(ctx context.Context, collection, id string) error
}

// CleanupResult summarizes the deletions performed by a cleanup run.
type CleanupResult struct {
	DeletedTokens   int
	DeletedSessions int
}

// CleanupService periodically removes inert token records and expired
// session records. Token expiry stays logical; this only reclaims space.
type CleanupService struct {
	tokens   TokenStore
	sessions kv.Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// CleanupOption configures CleanupService.
type CleanupOption func(*CleanupService)

// WithCleanupInterval overrides the cleanup interval when greater than zero.
func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(s *CleanupService) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithCleanupLogger overrides the logger used for cleanup errors.
func WithCleanupLogger(logger *slog.Logger) CleanupOption {
	return func(s *CleanupService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithCleanupMetrics(m *metrics.Metrics) CleanupOption {
	return func(s *CleanupService) {
		s.metrics = m
	}
}

func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(s *CleanupService) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a CleanupService. sessions is the unscoped durable store
// holding every browser's session record.
func New(tokens TokenStore, sessions kv.Store, opts ...CleanupOption) (*CleanupService, error) {
	if tokens == nil || sessions == nil {
		return nil, fmt.Errorf("tokens and sessions stores are required")
	}
	svc := &CleanupService{
		tokens:   tokens,
		sessions: sessions,
		interval: 15 * time.Minute,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Start runs cleanup periodically until ctx is cancelled.
func (s *CleanupService) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "admin cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce removes used or expired token records and expired or unreadable
// session records. Errors are aggregated; a failed deletion does not stop
// the run.
func (s *CleanupService) RunOnce(ctx context.Context) (CleanupResult, error) {
	now := s.now()
	var res CleanupResult
	var errs []error

	deletedTokens, err := s.deleteInertTokens(ctx, now)
	res.DeletedTokens = deletedTokens
	if err != nil {
		errs = append(errs, fmt.Errorf("delete inert tokens: %w", err))
	}

	deletedSessions, err := s.deleteExpiredSessions(ctx, now)
	res.DeletedSessions = deletedSessions
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired sessions: %w", err))
	}

	s.metrics.AddCleanupDeleted("token", res.DeletedTokens)
	s.metrics.AddCleanupDeleted("session", res.DeletedSessions)
	if res.DeletedTokens+res.DeletedSessions > 0 {
		s.logger.InfoContext(ctx, "admin cleanup completed",
			"deleted_tokens", res.DeletedTokens,
			"deleted_sessions", res.DeletedSessions,
		)
	}
	return res, errors.Join(errs...)
}

func (s *CleanupService) deleteInertTokens(ctx context.Context, now time.Time) (int, error) {
	docs, err := s.tokens.List(ctx, models.CollectionTokens)
	if err != nil {
		return 0, err
	}
	deleted := 0
	var errs []error
	for id, doc := range docs {
		var rec models.TokenRecord
		if err := docstore.Decode(doc, &rec); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable token record", "id", id, "error", err)
			continue
		}
		if !rec.Inert(now) {
			continue
		}
		if err := s.tokens.Delete(ctx, models.CollectionTokens, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func (s *CleanupService) deleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.sessions.Keys(ctx, session.BrowserScope(""))
	if err != nil {
		return 0, err
	}
	deleted := 0
	var errs []error
	for _, key := range keys {
		if _, ok := session.BrowserFromSessionKey(key); !ok {
			continue
		}
		raw, ok, err := s.sessions.Get(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if !ok {
			continue
		}
		var rec models.SessionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.Valid(now) {
			continue
		}
		if err := s.sessions.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
