// Package circuitbreaker provides per-target circuit breaking for outbound
// calls and token-validation providers.
package circuitbreaker

import (
	"fmt"
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default is 5.
	FailureThreshold int

	// SuccessThreshold is the number of successes needed in half-open state
	// to close the circuit. Default is 2.
	SuccessThreshold int

	// ResetTimeout is the duration the circuit stays open before a probe
	// is allowed. Default is 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the maximum number of in-flight probe requests allowed
	// in half-open state. Default is 1.
	HalfOpenMax int

	// FailureRatio is an optional failure ratio threshold (0.0 to 1.0).
	// If set, the circuit also opens when failures/total within the current
	// sampling window reaches this ratio, once MinRequests outcomes have
	// been observed. Zero disables ratio-based tripping.
	FailureRatio float64

	// MinRequests is the minimum number of outcomes in the sampling window
	// before FailureRatio is evaluated. Default is 10.
	MinRequests int

	// SamplingDuration is the rolling window over which outcomes are
	// counted for FailureRatio. Default is 1m.
	SamplingDuration time.Duration

	// OnStateChange is called after every state transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      1,
		FailureRatio:     0,
		MinRequests:      10,
		SamplingDuration: time.Minute,
	}
}

// Validate checks the configuration. Zero or negative thresholds and
// timeouts are rejected so misconfiguration fails at startup rather than
// at call time.
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("circuitbreaker: failure threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("circuitbreaker: success threshold must be >= 1, got %d", c.SuccessThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("circuitbreaker: reset timeout must be positive, got %s", c.ResetTimeout)
	}
	if c.HalfOpenMax < 1 {
		return fmt.Errorf("circuitbreaker: half-open max must be >= 1, got %d", c.HalfOpenMax)
	}
	if c.FailureRatio < 0 || c.FailureRatio > 1 {
		return fmt.Errorf("circuitbreaker: failure ratio must be in [0,1], got %v", c.FailureRatio)
	}
	if c.FailureRatio > 0 {
		if c.MinRequests < 1 {
			return fmt.Errorf("circuitbreaker: min requests must be >= 1, got %d", c.MinRequests)
		}
		if c.SamplingDuration <= 0 {
			return fmt.Errorf("circuitbreaker: sampling duration must be positive, got %s", c.SamplingDuration)
		}
	}
	return nil
}

// WithFailureThreshold sets the failure threshold.
func (c *Config) WithFailureThreshold(n int) *Config {
	c.FailureThreshold = n
	return c
}

// WithSuccessThreshold sets the success threshold.
func (c *Config) WithSuccessThreshold(n int) *Config {
	c.SuccessThreshold = n
	return c
}

// WithResetTimeout sets the reset timeout.
func (c *Config) WithResetTimeout(d time.Duration) *Config {
	c.ResetTimeout = d
	return c
}

// WithHalfOpenMax sets the maximum in-flight half-open probes.
func (c *Config) WithHalfOpenMax(n int) *Config {
	c.HalfOpenMax = n
	return c
}

// WithFailureRatio sets the failure ratio threshold.
func (c *Config) WithFailureRatio(ratio float64) *Config {
	c.FailureRatio = ratio
	return c
}

// WithOnStateChange sets the state change callback.
func (c *Config) WithOnStateChange(fn func(name string, from, to State)) *Config {
	c.OnStateChange = fn
	return c
}
