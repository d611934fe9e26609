// Package session drives one browser tab through admin sign-in: federated
// identity, allow-list, one-time token, session, expiry and logout.
//
// A Machine is a single actor. Operations take an operation lock with TryLock
// and fail with CodeConflict while another operation is in flight; Snapshot
// never blocks on an operation.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"clubadmin/internal/admin/identity"
	"clubadmin/internal/admin/models"
	"clubadmin/internal/admin/notify"
	"clubadmin/internal/admin/token"
	"clubadmin/internal/docstore"
	"clubadmin/internal/kv"
	"clubadmin/internal/platform/metrics"
	"clubadmin/internal/platform/nethealth"
	"clubadmin/internal/resilient"
	dErrors "clubadmin/pkg/domain-errors"
	request "clubadmin/pkg/platform/middleware/request"
)

const (
	DefaultSessionTimeout = 60 * time.Minute
	DefaultCheckInterval  = 30 * time.Second
	maxCheckInterval      = time.Minute
)

const degradedMessage = "Working offline: changes are saved on this device and will sync when the connection returns."

// TokenService issues and verifies one-time tokens.
type TokenService interface {
	Issue(ctx context.Context, email, name string) (*token.IssueResult, error)
	Verify(ctx context.Context, email, input string) error
}

// ProfileStore reads and writes admin profiles. *resilient.Adapter satisfies it.
type ProfileStore interface {
	Get(ctx context.Context, collection, id string) (docstore.Document, resilient.Source, error)
	Set(ctx context.Context, collection, id string, doc docstore.Document, merge bool) (resilient.Source, error)
}

// ActivityRecorder appends to the admin activity log.
type ActivityRecorder interface {
	Record(ctx context.Context, adminID, adminEmail, action string, details map[string]any)
}

// Config is the sign-in policy of a machine.
type Config struct {
	// AllowList holds admin emails. Empty allows every identity.
	AllowList      []string
	Permissions    []string
	SessionTimeout time.Duration
	CheckInterval  time.Duration
}

// Deps are the collaborators of a machine. Durable is scoped to the browser,
// Volatile to the tab.
type Deps struct {
	Provider      identity.Provider
	Tokens        TokenService
	Profiles      ProfileStore
	Durable       kv.Store
	Volatile      kv.Store
	Health        *nethealth.Health
	Notifications *notify.Queue
	Activity      ActivityRecorder
}

type Machine struct {
	cfg      Config
	provider identity.Provider
	tokens   TokenService
	profiles ProfileStore
	durable  kv.Store
	volatile kv.Store
	health   *nethealth.Health
	notes    *notify.Queue
	activity ActivityRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newNonce func() string

	op sync.Mutex

	mu        sync.RWMutex
	state     models.State
	resolving bool
	pending   *models.PendingAdmin
	expiry    time.Time
	admin     *models.AdminProfileRecord

	baseCtx     context.Context
	cancel      context.CancelFunc
	stopTicker  context.CancelFunc
	unsubscribe func()
	ready       chan struct{}
	readyOnce   sync.Once
}

type Option func(*Machine)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) {
		m.metrics = mt
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithNonce replaces the generator of redirect state nonces.
func WithNonce(gen func() string) Option {
	return func(m *Machine) {
		if gen != nil {
			m.newNonce = gen
		}
	}
}

func New(deps Deps, cfg Config, opts ...Option) (*Machine, error) {
	if deps.Provider == nil || deps.Tokens == nil || deps.Profiles == nil || deps.Durable == nil || deps.Volatile == nil {
		return nil, fmt.Errorf("provider, tokens, profiles, durable and volatile stores are required")
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.CheckInterval <= 0 || cfg.CheckInterval > maxCheckInterval {
		cfg.CheckInterval = DefaultCheckInterval
	}
	allow := make([]string, 0, len(cfg.AllowList))
	for _, e := range cfg.AllowList {
		if e = models.NormalizeEmail(e); e != "" {
			allow = append(allow, e)
		}
	}
	cfg.AllowList = allow

	m := &Machine{
		cfg:      cfg,
		provider: deps.Provider,
		tokens:   deps.Tokens,
		profiles: deps.Profiles,
		durable:  deps.Durable,
		volatile: deps.Volatile,
		health:   deps.Health,
		notes:    deps.Notifications,
		activity: deps.Activity,
		logger:   slog.Default(),
		now:      time.Now,
		newNonce: uuid.NewString,
		state:    models.StateLoading,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.health == nil {
		m.health = nethealth.New()
	}
	if m.notes == nil {
		m.notes = notify.New(0)
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())
	m.unsubscribe = m.provider.OnAuthStateChanged(m.onIdentityChanged)
	return m, nil
}

// Ready is closed once Start has resolved the initial state.
func (m *Machine) Ready() <-chan struct{} {
	return m.ready
}

// Notifications returns the tab's notification queue.
func (m *Machine) Notifications() *notify.Queue {
	return m.notes
}

// Snapshot returns the read-only view of the machine. An authenticated
// machine first reconciles with the browser's session record, which other
// tabs may have extended or removed. An expired session is reported as
// signed out even before the expiry check has cleaned it up.
func (m *Machine) Snapshot() models.Snapshot {
	if m.currentState() == models.StateAuthenticated {
		m.trySync(m.baseCtx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := models.Snapshot{State: m.state, Resolving: m.resolving}
	if m.state == models.StateAuthenticated && !m.now().Before(m.expiry) {
		snap.State = models.StateSignedOut
		return snap
	}
	if m.pending != nil {
		p := *m.pending
		snap.PendingAdmin = &p
	}
	if m.state == models.StateAuthenticated {
		exp := m.expiry
		snap.SessionExpiry = &exp
		if m.admin != nil {
			a := *m.admin
			a.Permissions = slices.Clone(m.admin.Permissions)
			snap.Admin = &a
		}
	}
	return snap
}

// Close stops timers and the provider subscription. The persisted state is kept.
func (m *Machine) Close() {
	m.cancel()
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.markReady()
}

func (m *Machine) lock() error {
	if !m.op.TryLock() {
		return dErrors.New(dErrors.CodeConflict, "another sign-in operation is in progress")
	}
	return nil
}

func (m *Machine) markReady() {
	m.readyOnce.Do(func() { close(m.ready) })
}

func (m *Machine) setState(state models.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

func (m *Machine) currentState() models.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) currentPending() *models.PendingAdmin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending
}

func (m *Machine) allowed(email string) bool {
	if len(m.cfg.AllowList) == 0 {
		return true
	}
	return slices.Contains(m.cfg.AllowList, models.NormalizeEmail(email))
}

// fail reports a terminal failure: one notification, one log line.
func (m *Machine) fail(ctx context.Context, err error, message string) error {
	if message == "" {
		message = err.Error()
	}
	m.notes.Push(notify.LevelError, message, string(dErrors.CodeOf(err)))
	m.logger.InfoContext(ctx, "admin sign-in step failed",
		"code", dErrors.CodeOf(err),
		"error", err,
		"request_id", request.GetRequestID(ctx),
	)
	return err
}

// warnIfDegraded warns once per outage, and once per epoch for a write that
// fell back without the store being marked degraded.
func (m *Machine) warnIfDegraded(fellBack bool) {
	epoch := m.health.Epoch()
	switch {
	case m.health.Degraded():
		m.notes.WarnDegraded(epoch, degradedMessage)
	case fellBack:
		m.notes.WarnFallback(epoch, degradedMessage)
	}
}

func (m *Machine) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := request.GetRequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	m.logger.InfoContext(ctx, event, args...)
}

func (m *Machine) record(ctx context.Context, admin *models.AdminProfileRecord, action string, details map[string]any) {
	if m.activity == nil || admin == nil {
		return
	}
	m.activity.Record(ctx, admin.UID, admin.Email, action, details)
}

// Local persistence.

func (m *Machine) loadPending(ctx context.Context) (*models.PendingAdmin, bool) {
	raw, ok, err := m.volatile.Get(ctx, models.KeyPendingAdmin)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to read pending admin", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var p models.PendingAdmin
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.Email == "" {
		m.logger.WarnContext(ctx, "discarding corrupt pending admin")
		m.removeVolatile(ctx, models.KeyPendingAdmin)
		return nil, false
	}
	return &p, true
}

func (m *Machine) savePending(ctx context.Context, p models.PendingAdmin) {
	raw, err := json.Marshal(p)
	if err == nil {
		err = m.volatile.Set(ctx, models.KeyPendingAdmin, string(raw))
	}
	if err != nil {
		// The flow continues in memory; only reload resumption is lost.
		m.logger.WarnContext(ctx, "failed to persist pending admin", "error", err)
	}
}

func (m *Machine) tokenSent(ctx context.Context) bool {
	v, ok, err := m.volatile.Get(ctx, models.KeyTokenSentForPending)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to read token marker", "error", err)
		return false
	}
	return ok && v == "true"
}

func (m *Machine) removeVolatile(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if err := m.volatile.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// clearPending drops the pending login and every marker.
func (m *Machine) clearPending(ctx context.Context) error {
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	err := m.removeVolatile(ctx, models.KeyPendingAdmin, models.KeyTokenSentForPending, models.KeyAuthRedirectInitiated)
	if err != nil {
		m.logger.WarnContext(ctx, "failed to clear pending login", "error", err)
	}
	return err
}

func (m *Machine) loadSession(ctx context.Context) (*models.SessionRecord, error) {
	raw, ok, err := m.durable.Get(ctx, models.KeyAdminSession)
	if err != nil || !ok {
		return nil, err
	}
	var rec models.SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return &models.SessionRecord{}, nil
	}
	return &rec, nil
}

func (m *Machine) saveSession(ctx context.Context, rec models.SessionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return m.durable.Set(ctx, models.KeyAdminSession, string(raw))
}

func (m *Machine) readProfile(ctx context.Context, uid string) (*models.AdminProfileRecord, error) {
	doc, _, err := m.profiles.Get(ctx, models.CollectionAdmins, uid)
	if err != nil {
		return nil, err
	}
	var p models.AdminProfileRecord
	if err := docstore.Decode(doc, &p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "corrupt admin profile")
	}
	return &p, nil
}
