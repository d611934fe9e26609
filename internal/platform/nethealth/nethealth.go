// Package nethealth holds the process-wide view of remote store reachability.
package nethealth

import "sync"

// Store modes reported by Mode.
const (
	ModeRemote   = "remote"
	ModeFallback = "fallback"
)

// Health tracks two flags: the remote store was found unavailable (blocked or
// unreachable), and the host is online. Degraded is their combination.
// Epoch increases on every transition into degraded mode so callers can
// deduplicate warnings per outage.
type Health struct {
	mu          sync.RWMutex
	unavailable bool
	offline     bool
	epoch       uint64
	onChange    []func(degraded bool)
}

// New returns a Health that starts online and available.
func New() *Health {
	return &Health{}
}

// OnChange registers fn to run after every degraded-mode transition.
func (h *Health) OnChange(fn func(degraded bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// MarkUnavailable sets the unavailable flag. It reports whether the flag changed.
func (h *Health) MarkUnavailable() bool {
	return h.update(func() { h.unavailable = true })
}

// MarkAvailable clears the unavailable flag. It reports whether the flag changed.
func (h *Health) MarkAvailable() bool {
	return h.update(func() { h.unavailable = false })
}

// SetOnline records host connectivity. It reports whether the value changed.
func (h *Health) SetOnline(online bool) bool {
	return h.update(func() { h.offline = !online })
}

func (h *Health) update(mutate func()) bool {
	h.mu.Lock()
	beforeU, beforeO := h.unavailable, h.offline
	wasDegraded := beforeU || beforeO
	mutate()
	changed := beforeU != h.unavailable || beforeO != h.offline
	degraded := h.unavailable || h.offline
	if degraded && !wasDegraded {
		h.epoch++
	}
	var listeners []func(bool)
	if degraded != wasDegraded {
		listeners = append(listeners, h.onChange...)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(degraded)
	}
	return changed
}

func (h *Health) Unavailable() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.unavailable
}

func (h *Health) Online() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.offline
}

// Degraded reports whether remote attempts should be skipped.
func (h *Health) Degraded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.unavailable || h.offline
}

// Epoch identifies the current outage; it changes each time degraded mode is entered.
func (h *Health) Epoch() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.epoch
}

// Mode returns ModeFallback while degraded and ModeRemote otherwise.
func (h *Health) Mode() string {
	if h.Degraded() {
		return ModeFallback
	}
	return ModeRemote
}
