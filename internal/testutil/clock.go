package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time for FakeClock: a fixed,
// millisecond-aligned instant so stored timestamps round-trip exactly.
var Epoch = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

// FakeClock is a settable wall clock for tests.
//
// Unlike a real clock it only moves when told to, so TTL expiry and retry
// backoff can be exercised without sleeping.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock reading start. A zero start means Epoch.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are ignored; the clock never runs backwards.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
