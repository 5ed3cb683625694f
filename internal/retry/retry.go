// Package retry provides bounded retry with pluggable backoff.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1 // ensure fits in int64
	return int64(v % uint64(n))                //nolint:gosec // n>0, v%n < n, safe
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Backoff returns the delay to wait before retry number attempt (1-based).
type Backoff func(attempt int, base time.Duration) time.Duration

// Linear waits base * attempt.
func Linear(attempt int, base time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return base * time.Duration(attempt)
}

// Exponential doubles base on every retry with +-25% jitter.
func Exponential(attempt int, base time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := base << (attempt - 1)
	jitter := delay / 4
	return delay - jitter + time.Duration(cryptoInt64n(int64(2*jitter+1)))
}

// ByName returns the backoff called name ("linear" or "exponential").
// Unknown names fall back to Linear and report false.
func ByName(name string) (Backoff, bool) {
	switch name {
	case "exponential":
		return Exponential, true
	case "linear", "":
		return Linear, true
	default:
		return Linear, false
	}
}

// Policy bounds a retry loop. MaxRetries counts retries after the first
// attempt, so fn runs at most MaxRetries+1 times.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Backoff    Backoff
}

// Delay returns the wait before retry number attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return Linear(attempt, p.BaseDelay)
	}
	return p.Backoff(attempt, p.BaseDelay)
}

// Do calls fn until it succeeds, returns a *PermanentError, the policy is
// exhausted, or ctx is done. fn receives the 1-based attempt number.
// The last error from fn is returned; permanent errors are unwrapped.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	maxAttempts := p.MaxRetries + 1
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		// Don't retry permanent errors.
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		// Don't sleep after the last attempt.
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}
