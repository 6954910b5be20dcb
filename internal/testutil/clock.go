package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the starting point for FakeClock when none is given.
var DefaultEpoch = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeClock is a manually driven wall clock for tests and the scenario harness.
//
// Time only moves when Advance or Set is called, so inactivity windows can be
// crossed without sleeping. It implements clock.Clock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at start.
// A zero start uses DefaultEpoch.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	return &FakeClock{now: start}
}

// Now returns the frozen time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are allowed; tests use them to simulate clock skew.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
