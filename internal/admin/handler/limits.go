package handler

import (
	"sync"
	"time"
)

// tabLimits holds the per-tab resend cooldown and verify attempt counter.
// Both reset when a new token is sent.
type tabLimits struct {
	cooldown    time.Duration
	maxAttempts int
	now         func() time.Time

	mu   sync.Mutex
	tabs map[string]*tabLimit
}

type tabLimit struct {
	lastSent time.Time
	failures int
}

func newTabLimits(cooldown time.Duration, maxAttempts int, now func() time.Time) *tabLimits {
	return &tabLimits{cooldown: cooldown, maxAttempts: maxAttempts, now: now, tabs: make(map[string]*tabLimit)}
}

// peek returns the tab's limits without creating them.
func (l *tabLimits) peek(tab string) tabLimit {
	if t, ok := l.tabs[tab]; ok {
		return *t
	}
	return tabLimit{}
}

func (l *tabLimits) get(tab string) *tabLimit {
	t, ok := l.tabs[tab]
	if !ok {
		t = &tabLimit{}
		l.tabs[tab] = t
	}
	return t
}

// resendWait returns how long the tab must wait before the next resend.
func (l *tabLimits) resendWait(tab string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.peek(tab)
	if t.lastSent.IsZero() {
		return 0
	}
	wait := l.cooldown - l.now().Sub(t.lastSent)
	if wait < 0 {
		return 0
	}
	return wait
}

func (l *tabLimits) sent(tab string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.get(tab)
	t.lastSent = l.now()
	t.failures = 0
}

// attemptsLeft reports the remaining verify attempts, or -1 when unlimited.
func (l *tabLimits) attemptsLeft(tab string) int {
	if l.maxAttempts <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return max(l.maxAttempts-l.peek(tab).failures, 0)
}

func (l *tabLimits) failed(tab string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.get(tab).failures++
}

func (l *tabLimits) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tabs)
}

// reset drops the tab's limits. It also runs when the tab's machine is evicted.
func (l *tabLimits) reset(tab string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tabs, tab)
}
