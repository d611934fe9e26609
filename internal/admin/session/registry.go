package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"clubadmin/internal/admin/identity"
	"clubadmin/internal/admin/models"
	"clubadmin/internal/admin/notify"
	"clubadmin/internal/kv"
	"clubadmin/internal/platform/metrics"
	"clubadmin/internal/platform/nethealth"
)

const (
	DefaultIdleTTL         = 2 * time.Hour
	defaultJanitorInterval = 5 * time.Minute

	browserScopePrefix = "browser/"
	tabScopePrefix     = "tab/"
)

// BrowserScope is the kv scope of a browser's durable state.
func BrowserScope(browserID string) string { return browserScopePrefix + browserID }

// TabScope is the kv scope of a tab's volatile state.
func TabScope(tabID string) string { return tabScopePrefix + tabID }

// BrowserFromSessionKey extracts the browser id from an unscoped durable key
// holding a session record, e.g. "browser/<id>:adminSession".
func BrowserFromSessionKey(key string) (string, bool) {
	scope, name, ok := strings.Cut(key, ":")
	if !ok || name != models.KeyAdminSession {
		return "", false
	}
	id, found := strings.CutPrefix(scope, browserScopePrefix)
	if !found || id == "" {
		return "", false
	}
	return id, true
}

// Key identifies the machine of one tab.
type Key struct {
	Browser string
	Tab     string
}

// Factory builds the machine for a key.
type Factory func(key Key) (*Machine, error)

// Shared holds the collaborators every machine shares. Durable and Volatile
// are unscoped; each machine gets its own scope.
type Shared struct {
	Providers identity.Factory
	Tokens    TokenService
	Profiles  ProfileStore
	Durable   kv.Store
	Volatile  kv.Store
	Health    *nethealth.Health
	Activity  ActivityRecorder
}

// NewFactory returns a Factory wiring shared collaborators with per-tab scopes.
func NewFactory(shared Shared, cfg Config, opts ...Option) Factory {
	return func(key Key) (*Machine, error) {
		return New(Deps{
			Provider:      shared.Providers(),
			Tokens:        shared.Tokens,
			Profiles:      shared.Profiles,
			Durable:       kv.Scope(shared.Durable, BrowserScope(key.Browser)),
			Volatile:      kv.Scope(shared.Volatile, TabScope(key.Tab)),
			Health:        shared.Health,
			Notifications: notify.New(0),
			Activity:      shared.Activity,
		}, cfg, opts...)
	}
}

type entry struct {
	machine  *Machine
	lastSeen time.Time
}

// Registry owns one machine per (browser, tab). New machines start in the
// background and report Resolving until their initial state is known.
// Machines idle longer than the idle TTL are closed and dropped.
type Registry struct {
	build           Factory
	idleTTL         time.Duration
	janitorInterval time.Duration
	logger          *slog.Logger
	metrics         *metrics.Metrics
	now             func() time.Time

	mu      sync.Mutex
	entries map[Key]*entry
	onEvict []func(Key)
}

type RegistryOption func(*Registry)

func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

func WithJanitorInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.janitorInterval = d
		}
	}
}

func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(build Factory, opts ...RegistryOption) *Registry {
	r := &Registry{
		build:           build,
		idleTTL:         DefaultIdleTTL,
		janitorInterval: defaultJanitorInterval,
		logger:          slog.Default(),
		now:             time.Now,
		entries:         make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnEvict registers fn to run after a machine is dropped by Sweep or Close.
func (r *Registry) OnEvict(fn func(Key)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = append(r.onEvict, fn)
}

func (r *Registry) evicted(keys []Key, listeners []func(Key)) {
	for _, key := range keys {
		for _, fn := range listeners {
			fn(key)
		}
	}
}

// Get returns the machine for key, creating and starting it when absent.
// The start outlives ctx's cancellation but keeps its values.
func (r *Registry) Get(ctx context.Context, key Key) (*Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.lastSeen = r.now()
		return e.machine, nil
	}
	m, err := r.build(key)
	if err != nil {
		return nil, err
	}
	r.entries[key] = &entry{machine: m, lastSeen: r.now()}
	r.metrics.SetSessionMachines(len(r.entries))

	startCtx := context.WithoutCancel(ctx)
	go func() {
		if err := m.Start(startCtx); err != nil {
			r.logger.WarnContext(startCtx, "session start finished with error", "error", err)
		}
	}()
	return m, nil
}

// Sweep closes machines idle longer than the idle TTL and returns how many
// were dropped.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*Machine
	var keys []Key
	for key, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.machine)
			keys = append(keys, key)
			delete(r.entries, key)
		}
	}
	r.metrics.SetSessionMachines(len(r.entries))
	listeners := r.onEvict
	r.mu.Unlock()

	for _, m := range idle {
		m.Close()
	}
	r.evicted(keys, listeners)
	return len(idle)
}

// Run sweeps periodically until ctx is cancelled, then closes every machine.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.DebugContext(ctx, "evicted idle session machines", "count", n)
			}
		case <-ctx.Done():
			r.Close()
			return ctx.Err()
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes and drops every machine.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[Key]*entry)
	r.metrics.SetSessionMachines(0)
	listeners := r.onEvict
	r.mu.Unlock()

	keys := make([]Key, 0, len(entries))
	for key, e := range entries {
		e.machine.Close()
		keys = append(keys, key)
	}
	r.evicted(keys, listeners)
}
