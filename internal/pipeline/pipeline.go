// Package pipeline composes the reliability policies around a single
// outbound call: concurrency capping, rate limiting, circuit breaking and
// retry with backoff.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tokengate/tokengate/internal/circuitbreaker"
	"github.com/tokengate/tokengate/internal/concurrency"
	"github.com/tokengate/tokengate/internal/ratelimit"
	"github.com/tokengate/tokengate/internal/retry"
)

// Error wraps a pipeline failure with the target name and the time the
// decision was made, so callers and log pipelines can attribute it.
type Error struct {
	Target string
	Time   time.Time
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Target, e.Err)
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// Pipeline applies the reliability policies, in admission order, around
// calls to one target. Each target owns its own Pipeline; the policy state
// inside is never shared across targets.
type Pipeline struct {
	target  string
	slots   *concurrency.Limiter
	limiter ratelimit.Limiter
	breaker *circuitbreaker.CircuitBreaker
	retry   *retry.Policy
	logger  *zap.Logger
}

// Option is a functional option for the pipeline.
type Option func(*Pipeline)

// WithConcurrencyLimiter caps in-flight calls to the target.
func WithConcurrencyLimiter(l *concurrency.Limiter) Option {
	return func(p *Pipeline) {
		p.slots = l
	}
}

// WithRateLimiter applies admission control per window.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(p *Pipeline) {
		p.limiter = l
	}
}

// WithCircuitBreaker gates calls on target health.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(p *Pipeline) {
		p.breaker = cb
	}
}

// WithRetryPolicy retries retryable failures of the underlying call.
func WithRetryPolicy(policy *retry.Policy) Option {
	return func(p *Pipeline) {
		p.retry = policy
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a reliability pipeline for the named target. Policies not
// supplied via options are skipped.
func New(target string, opts ...Option) *Pipeline {
	p := &Pipeline{
		target: target,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Execute runs call under the composed policies. Ordering: a concurrency
// slot is acquired first, then the rate limiter, then the circuit breaker
// gate; only then is the call performed, wrapped by the retry policy.
// Admission rejections return immediately and are never retried, and a
// call rejected by a limiter does not count toward circuit failure
// statistics. Retry attempts share the already-acquired slot. The final
// outcome is recorded on the circuit breaker; a cancelled call records
// neither success nor failure.
func (p *Pipeline) Execute(ctx context.Context, clientKey string, call func(context.Context) error) error {
	if p.slots != nil {
		if err := p.slots.Acquire(ctx); err != nil {
			return p.wrap(err)
		}
		defer p.slots.Release()
	}

	if p.limiter != nil {
		res, err := p.limiter.Allow(ctx, clientKey)
		if err != nil {
			return p.wrap(err)
		}
		if !res.Allowed {
			p.logger.Debug("call rejected by rate limiter",
				zap.String("target", p.target),
				zap.Duration("retryAfter", res.RetryAfter),
			)
			return p.wrap(ratelimit.ErrRateLimited)
		}
	}

	if p.breaker != nil && !p.breaker.Allow() {
		p.logger.Debug("call rejected by circuit breaker",
			zap.String("target", p.target),
		)
		return p.wrap(circuitbreaker.ErrCircuitOpen)
	}

	err := p.invoke(ctx, call)

	if p.breaker != nil {
		switch {
		case cancelled(ctx, err):
			// Abandoned call: not an observation of target health. The
			// admission still has to be released or a half-open probe
			// slot would stay occupied forever.
			p.breaker.Abandon()
		case err == nil:
			p.breaker.RecordSuccess()
		default:
			p.breaker.RecordFailure()
		}
	}

	if err != nil {
		return p.wrap(err)
	}
	return nil
}

// Target returns the target name this pipeline protects.
func (p *Pipeline) Target() string {
	return p.target
}

func (p *Pipeline) invoke(ctx context.Context, call func(context.Context) error) error {
	if p.retry == nil {
		return call(ctx)
	}
	return p.retry.Execute(ctx, func() error {
		return call(ctx)
	})
}

func (p *Pipeline) wrap(err error) error {
	return &Error{
		Target: p.target,
		Time:   time.Now(),
		Err:    err,
	}
}

// cancelled reports whether err is the caller abandoning the call rather
// than a target outcome.
func cancelled(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
