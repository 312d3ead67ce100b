package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the wait before the next retry attempt.
type Backoff interface {
	// Next returns the delay after the given attempt (1-based).
	Next(attempt int) time.Duration
}

// ExponentialBackoff doubles the delay after each attempt, capped at max,
// with optional jitter.
type ExponentialBackoff struct {
	base   time.Duration
	max    time.Duration
	jitter float64
}

// NewExponentialBackoff creates a new exponential backoff.
func NewExponentialBackoff(base, max time.Duration, jitter float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		base:   base,
		max:    max,
		jitter: jitter,
	}
}

// Next implements Backoff. The first retry waits base, the second 2*base,
// then 4*base and so on.
func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.base) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.max) {
		delay = float64(b.max)
	}

	if b.jitter > 0 {
		// Using math/rand is fine here; jitter is timing, not security.
		//nolint:gosec // G404
		delta := delay * b.jitter * rand.Float64()
		delay += delta
		if delay > float64(b.max) {
			delay = float64(b.max)
		}
	}

	return time.Duration(delay)
}

// ConstantBackoff waits the same duration between every attempt.
type ConstantBackoff struct {
	interval time.Duration
}

// NewConstantBackoff creates a new constant backoff.
func NewConstantBackoff(interval time.Duration) *ConstantBackoff {
	return &ConstantBackoff{interval: interval}
}

// Next implements Backoff.
func (b *ConstantBackoff) Next(attempt int) time.Duration {
	return b.interval
}
