package engine

import (
	"fmt"
	"time"
)

// DefaultMaxRetries is the number of failed attempts after which an item
// is marked failed.
const DefaultMaxRetries = 3

// maxBackoffShift caps the exponent so the delay cannot overflow.
const maxBackoffShift = 16

// RetryPolicy bounds replay attempts for retryable failures.
//
// An item that fails MaxRetries consecutive attempts is marked failed and
// never retried automatically. With Backoff > 0 the nth failure delays the
// next attempt by Backoff * 2^(n-1); with Backoff == 0 the item is eligible
// on the very next pass.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Next returns the outcome of the retryCount-th failed attempt.
// exhausted is true when the item must be marked failed; otherwise
// nextAttempt is when it becomes eligible again (zero means immediately).
func (p RetryPolicy) Next(retryCount int, now time.Time) (exhausted bool, nextAttempt time.Time) {
	if retryCount >= p.MaxRetries {
		return true, time.Time{}
	}
	if p.Backoff <= 0 {
		return false, time.Time{}
	}
	shift := retryCount - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return false, now.Add(p.Backoff << shift)
}

// Validate checks the policy is usable.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", p.MaxRetries)
	}
	if p.Backoff < 0 {
		return fmt.Errorf("retry backoff must not be negative, got %s", p.Backoff)
	}
	return nil
}

// AuthPolicy decides what happens to an item whose replay gets a 401.
type AuthPolicy string

const (
	// AuthHold keeps the item pending but skips it until ReleaseHolds.
	AuthHold AuthPolicy = "hold"

	// AuthDrop removes the item.
	AuthDrop AuthPolicy = "drop"
)

// ParseAuthPolicy parses "hold" or "drop". Empty means hold.
func ParseAuthPolicy(s string) (AuthPolicy, error) {
	switch AuthPolicy(s) {
	case "", AuthHold:
		return AuthHold, nil
	case AuthDrop:
		return AuthDrop, nil
	default:
		return "", fmt.Errorf("unknown auth policy %q (want hold or drop)", s)
	}
}
