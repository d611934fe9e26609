// Package connectivity watches the remote store while the service runs. It
// flips the shared health flags and reconciles fallback records once the
// store answers again.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"clubadmin/internal/platform/metrics"
	"clubadmin/internal/platform/nethealth"
	"clubadmin/internal/resilient"
)

// Pinger is the remote store's liveness check.
type Pinger interface {
	Health(ctx context.Context) error
}

// Syncer reconciles local fallback records into the remote store.
type Syncer interface {
	SyncFallback(ctx context.Context) (resilient.SyncResult, error)
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Available bool
	// Offline is set when the ping failed because the host has no network.
	Offline   bool
	Recovered bool
	Sync      resilient.SyncResult
}

type Monitor struct {
	remote   Pinger
	syncer   Syncer
	health   *nethealth.Health
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	synced bool
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTimeout bounds each ping.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

func New(remote Pinger, syncer Syncer, health *nethealth.Health, opts ...Option) (*Monitor, error) {
	if remote == nil || syncer == nil || health == nil {
		return nil, fmt.Errorf("remote, syncer and health are required")
	}
	m := &Monitor{
		remote:   remote,
		syncer:   syncer,
		health:   health,
		interval: 30 * time.Second,
		timeout:  5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start checks immediately and then on every interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.CheckOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CheckOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CheckOnce pings the remote store. A ping that fails because this host has
// no network marks the host offline; any other failure marks the store
// unavailable. A successful ping clears both flags and, on recovery or the
// first success, syncs pending fallback records.
func (m *Monitor) CheckOnce(ctx context.Context) CheckResult {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.remote.Health(pingCtx)
	cancel()

	var res CheckResult
	switch {
	case err != nil && hostOffline(err):
		res.Offline = true
		if m.health.SetOnline(false) {
			m.logger.WarnContext(ctx, "host is offline, switching to fallback", "error", err)
		}
	case err != nil:
		if m.health.MarkUnavailable() {
			m.logger.WarnContext(ctx, "remote store unreachable, switching to fallback", "error", err)
		}
		m.health.SetOnline(true)
	default:
		res.Available = true
		res.Recovered = m.health.Degraded()
		m.health.SetOnline(true)
		m.health.MarkAvailable()
		if res.Recovered {
			m.logger.InfoContext(ctx, "remote store reachable again")
		}
		if res.Recovered || !m.synced {
			sync, err := m.syncer.SyncFallback(ctx)
			res.Sync = sync
			if err != nil {
				m.logger.ErrorContext(ctx, "fallback sync incomplete", "error", err)
			} else if !sync.Skipped {
				m.synced = true
			}
		}
	}
	m.metrics.SetStoreDegraded(m.health.Degraded())
	return res
}

// hostOffline reports failures that mean no network is reachable from this
// host at all, as opposed to the store itself being down.
func hostOffline(err error) bool {
	if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.ENETDOWN) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsTimeout
}
