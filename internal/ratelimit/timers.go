package ratelimit

import (
	"sync"
	"time"
)

// Timers is the named-timer store periodic jobs use to self-throttle.
// Each name tracks only the last time it fired. Last-write-wins; safe for
// concurrent use.
type Timers struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewTimers creates an empty timer store using UTC wall time.
func NewTimers() *Timers {
	return &Timers{
		last: make(map[string]time.Time),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// NewTimersAt creates a timer store with an injected clock, for tests.
func NewTimersAt(now func() time.Time) *Timers {
	return &Timers{last: make(map[string]time.Time), now: now}
}

// Limited reports whether the last firing of name was less than delta ago.
// When it was not — including the very first call for a name — the stored
// timestamp is updated to now and Limited returns false, meaning the
// caller should proceed.
func (t *Timers) Limited(name string, delta time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[name]; ok && now.Sub(last) < delta {
		return true
	}
	t.last[name] = now
	return false
}

// Reset forgets a named timer so the next Limited call fires.
func (t *Timers) Reset(name string) {
	t.mu.Lock()
	delete(t.last, name)
	t.mu.Unlock()
}
