// Package notify queues user-facing notifications for one browser tab until
// the client drains them.
package notify

import (
	"sync"
	"time"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const DefaultCapacity = 32

// Notification is one toast.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	At      time.Time `json:"at"`
}

// Queue is a bounded FIFO of notifications. When full the oldest entry is dropped.
type Queue struct {
	mu            sync.Mutex
	items         []Notification
	capacity      int
	now           func() time.Time
	degradedEpoch uint64

	fallbackWarned bool
	fallbackEpoch  uint64
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity, now: time.Now}
}

func (q *Queue) Push(level Level, message, code string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.push(Notification{Level: level, Message: message, Code: code, At: q.now()})
}

func (q *Queue) push(n Notification) {
	if len(q.items) == q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, n)
}

// WarnDegraded posts message once per degraded epoch. Repeated calls within
// the same epoch are dropped, so a client sees one warning per transition.
func (q *Queue) WarnDegraded(epoch uint64, message string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if epoch == 0 || epoch <= q.degradedEpoch {
		return false
	}
	q.degradedEpoch = epoch
	q.push(Notification{Level: LevelWarning, Message: message, Code: "store_unavailable", At: q.now()})
	return true
}

// WarnFallback posts message when a write reached the local fallback while
// the store was not marked degraded, e.g. after the retries ran out. It warns
// once per health epoch, independently of WarnDegraded.
func (q *Queue) WarnFallback(epoch uint64, message string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fallbackWarned && q.fallbackEpoch == epoch {
		return false
	}
	q.fallbackWarned = true
	q.fallbackEpoch = epoch
	q.push(Notification{Level: LevelWarning, Message: message, Code: "store_unavailable", At: q.now()})
	return true
}

// Drain returns and removes every queued notification.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	if out == nil {
		return []Notification{}
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
