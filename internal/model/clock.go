package model

import "time"

// Clock supplies wall-clock time. Components take a Clock so tests can
// control TTL expiry, backoff and timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time { return time.Now() }
