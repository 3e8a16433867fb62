package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimersFirstCallProceeds(t *testing.T) {
	timers := NewTimers()
	assert.False(t, timers.Limited("job", time.Minute))
}

func TestTimersWithinDeltaIsLimited(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timers := NewTimersAt(func() time.Time { return now })

	assert.False(t, timers.Limited("job", time.Minute))

	now = now.Add(30 * time.Second)
	assert.True(t, timers.Limited("job", time.Minute))

	// Being limited must not refresh the stored timestamp.
	now = now.Add(31 * time.Second)
	assert.False(t, timers.Limited("job", time.Minute))
}

func TestTimersIndependentNames(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timers := NewTimersAt(func() time.Time { return now })

	assert.False(t, timers.Limited("a", time.Minute))
	assert.False(t, timers.Limited("b", time.Minute))
	assert.True(t, timers.Limited("a", time.Minute))
}

func TestTimersReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timers := NewTimersAt(func() time.Time { return now })

	assert.False(t, timers.Limited("job", time.Hour))
	assert.True(t, timers.Limited("job", time.Hour))
	timers.Reset("job")
	assert.False(t, timers.Limited("job", time.Hour))
}
