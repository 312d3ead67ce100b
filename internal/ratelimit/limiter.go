// Package ratelimit provides bounded-request-per-window admission control
// for outbound targets and provider key-set refreshes.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is returned by callers that convert a denied Result into
// an error.
var ErrRateLimited = errors.New("rate limit exceeded")

// GlobalKey is the effective key used when limiting is not partitioned
// per client.
const GlobalKey = "global"

// Limiter defines the interface for rate limiting.
type Limiter interface {
	// Allow checks if a single request is allowed for the given client key.
	// An empty key resolves to the shared global key.
	Allow(ctx context.Context, key string) (*Result, error)

	// AllowN checks if n requests are allowed for the given client key.
	AllowN(ctx context.Context, key string, n int) (*Result, error)

	// Reset resets the rate limit state for the given client key.
	Reset(ctx context.Context, key string) error
}

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed per window.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAfter is the duration until the current window expires.
	ResetAfter time.Duration

	// RetryAfter is the duration to wait before retrying (when denied).
	RetryAfter time.Duration
}

// Config holds configuration for a rate limiter.
type Config struct {
	// Limit is the maximum number of requests allowed per window.
	// Default is 100.
	Limit int

	// Window is the time window for the rate limit. Default is 1m.
	Window time.Duration

	// PerClient partitions the window state per client key. When false a
	// single shared window applies to all callers.
	PerClient bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Limit:     100,
		Window:    time.Minute,
		PerClient: false,
	}
}

// Validate checks the configuration at startup.
func (c *Config) Validate() error {
	if c.Limit < 1 {
		return fmt.Errorf("ratelimit: limit must be >= 1, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be positive, got %s", c.Window)
	}
	return nil
}

// NoopLimiter is a rate limiter that always allows requests.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// AllowN implements Limiter.
func (l *NoopLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(ctx context.Context, key string) error {
	return nil
}
