// Package activity records admin sign-in activity in the document store.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"clubadmin/internal/admin/models"
	"clubadmin/internal/docstore"
	"clubadmin/internal/resilient"
)

// Store is satisfied by *resilient.Adapter.
type Store interface {
	Set(ctx context.Context, collection, id string, doc docstore.Document, merge bool) (resilient.Source, error)
}

// Log appends activity records. Failures are logged, never returned: losing
// an activity entry must not fail a sign-in.
type Log struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Log)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

func New(store Store, opts ...Option) *Log {
	l := &Log{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record writes one entry for the admin.
func (l *Log) Record(ctx context.Context, adminID, adminEmail, action string, details map[string]any) {
	rec := models.ActivityRecord{
		AdminID:    adminID,
		AdminEmail: adminEmail,
		Action:     action,
		Details:    details,
		Timestamp:  l.now().UTC().Format(time.RFC3339),
	}
	doc, err := docstore.Encode(rec)
	if err == nil {
		_, err = l.store.Set(ctx, models.CollectionActivity, l.newID(), doc, false)
	}
	if err != nil {
		l.logger.WarnContext(ctx, "failed to record admin activity",
			"action", action,
			"admin_id", adminID,
			"error", err,
		)
	}
}
