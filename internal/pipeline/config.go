package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tokengate/tokengate/internal/circuitbreaker"
	"github.com/tokengate/tokengate/internal/concurrency"
	"github.com/tokengate/tokengate/internal/ratelimit"
	"github.com/tokengate/tokengate/internal/retry"
)

// Config assembles the per-target policy configurations. A nil section
// disables that policy for the target.
type Config struct {
	Concurrency    *concurrency.Config
	RateLimit      *ratelimit.Config
	CircuitBreaker *circuitbreaker.Config
	Retry          *retry.Policy
}

// Validate checks every configured section.
func (c *Config) Validate() error {
	if c.Concurrency != nil {
		if err := c.Concurrency.Validate(); err != nil {
			return err
		}
	}
	if c.RateLimit != nil {
		if err := c.RateLimit.Validate(); err != nil {
			return err
		}
	}
	if c.CircuitBreaker != nil {
		if err := c.CircuitBreaker.Validate(); err != nil {
			return err
		}
	}
	if c.Retry != nil {
		if err := c.Retry.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FromConfig builds a pipeline with freshly constructed policy state for
// the named target.
func FromConfig(target string, cfg *Config, logger *zap.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: config is required for target %q", target)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []Option{WithLogger(logger)}

	if cfg.Concurrency != nil {
		opts = append(opts, WithConcurrencyLimiter(concurrency.NewLimiter(target, cfg.Concurrency, logger)))
	}
	if cfg.RateLimit != nil {
		opts = append(opts, WithRateLimiter(ratelimit.NewFixedWindowLimiter(target, cfg.RateLimit, ratelimit.WithLogger(logger))))
	}
	if cfg.CircuitBreaker != nil {
		opts = append(opts, WithCircuitBreaker(circuitbreaker.New(target, cfg.CircuitBreaker, logger)))
	}
	if cfg.Retry != nil {
		policy := *cfg.Retry
		if policy.Operation == "" {
			policy.Operation = target
		}
		if policy.Logger == nil {
			policy.Logger = logger
		}
		opts = append(opts, WithRetryPolicy(&policy))
	}

	return New(target, opts...), nil
}
