package gate

import (
	"sync"
	"time"
)

// Throttle enforces a minimum interval between sends per chat.
// Records are kept in memory only.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, last: map[string]time.Time{}}
}

// Allow reports whether a send to chatID is permitted at now.
func (t *Throttle) Allow(chatID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.last[chatID]
	if !ok {
		return true
	}
	return now.Sub(last) >= t.interval
}

// Mark records a send to chatID at now.
func (t *Throttle) Mark(chatID string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[chatID] = now
}

// Last returns the last recorded send for chatID.
func (t *Throttle) Last(chatID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.last[chatID]
	return last, ok
}
