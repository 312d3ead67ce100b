// Package retry provides bounded-attempt retry with configurable backoff
// around fallible calls.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Policy defines the retry policy. A Policy is stateless across calls and
// safe for concurrent use; per-invocation state lives on the stack of
// Execute.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default is 3.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Default is 100ms.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay. Default is 10s.
	MaxDelay time.Duration

	// UseExponentialBackoff doubles the delay after each retry. When
	// false every retry waits BaseDelay.
	UseExponentialBackoff bool

	// Jitter is the random jitter factor (0.0 to 1.0) applied to each
	// delay. Zero disables jitter.
	Jitter float64

	// RetryOn is the set of conditions that make a failure retryable. An
	// empty set retries nothing.
	RetryOn []Condition

	// Operation names the call for logging and metrics.
	Operation string

	// Logger for retry attempts. Nil disables logging.
	Logger *zap.Logger
}

// DefaultPolicy returns a Policy with default values.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:           3,
		BaseDelay:             100 * time.Millisecond,
		MaxDelay:              10 * time.Second,
		UseExponentialBackoff: true,
		RetryOn:               []Condition{OnTransientErrors()},
	}
}

// Validate checks the policy at startup.
func (p *Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("retry: base delay must be positive, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("retry: max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("retry: jitter must be in [0,1], got %v", p.Jitter)
	}
	return nil
}

// Execute invokes fn, retrying retryable failures until an attempt
// succeeds, the attempt budget is exhausted, or the context is cancelled.
// An exhausted budget surfaces an *ExhaustedError wrapping the last
// failure; a non-retryable failure is surfaced as-is. The backoff wait is
// cooperative and aborts on context cancellation.
func (p *Policy) Execute(ctx context.Context, fn func() error) error {
	backoff := p.backoff()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		recordAttempt(p.Operation, attempt)

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				recordSuccessAfterRetry(p.Operation)
			}
			return nil
		}

		if !p.shouldRetry(lastErr) {
			return lastErr
		}

		if attempt == p.MaxAttempts {
			break
		}

		delay := backoff.Next(attempt)

		if p.Logger != nil {
			p.Logger.Debug("retrying call",
				zap.String("operation", p.Operation),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
		}
		recordBackoff(p.Operation, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	recordExhausted(p.Operation)

	return &ExhaustedError{
		Operation: p.Operation,
		Attempts:  p.MaxAttempts,
		Err:       lastErr,
	}
}

// shouldRetry classifies the error against the policy's conditions.
func (p *Policy) shouldRetry(err error) bool {
	for _, cond := range p.RetryOn {
		if cond.ShouldRetry(err) {
			return true
		}
	}
	return false
}

func (p *Policy) backoff() Backoff {
	if p.UseExponentialBackoff {
		return NewExponentialBackoff(p.BaseDelay, p.MaxDelay, p.Jitter)
	}
	return NewConstantBackoff(p.BaseDelay)
}
