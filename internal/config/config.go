// Package config provides the YAML configuration surface for targets and
// token-validation providers. Invalid values fail validation at load
// time, never at call time.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/circuitbreaker"
	"github.com/tokengate/tokengate/internal/concurrency"
	"github.com/tokengate/tokengate/internal/pipeline"
	"github.com/tokengate/tokengate/internal/ratelimit"
	"github.com/tokengate/tokengate/internal/retry"
)

// ValidationError describes a rejected configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Config is the root configuration document.
type Config struct {
	// Targets lists outbound call targets and their reliability policies.
	Targets []TargetConfig `yaml:"targets" json:"targets"`

	// Providers lists token-validation providers.
	Providers []ProviderConfig `yaml:"providers" json:"providers"`

	// KeyRefreshInterval drives the registry's background key refresh
	// loop. Zero disables it.
	KeyRefreshInterval Duration `yaml:"keyRefreshInterval,omitempty" json:"keyRefreshInterval,omitempty"`
}

// TargetConfig bundles the reliability policies of one call target.
// Omitted sections leave the corresponding layer disabled; a present
// section must be fully valid.
type TargetConfig struct {
	Name           string                `yaml:"name" json:"name"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	RateLimit      *RateLimitConfig      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	Retry          *RetryConfig          `yaml:"retry,omitempty" json:"retry,omitempty"`
	Concurrency    *ConcurrencyConfig    `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
}

// CircuitBreakerConfig configures a target's or provider's breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int      `yaml:"failureThreshold" json:"failureThreshold"`
	SuccessThreshold int      `yaml:"successThreshold" json:"successThreshold"`
	ResetTimeout     Duration `yaml:"resetTimeout" json:"resetTimeout"`
	HalfOpenMax      int      `yaml:"halfOpenMax,omitempty" json:"halfOpenMax,omitempty"`
	FailureRatio     float64  `yaml:"failureRatio,omitempty" json:"failureRatio,omitempty"`
	MinRequests      int      `yaml:"minRequests,omitempty" json:"minRequests,omitempty"`
	SamplingDuration Duration `yaml:"samplingDuration,omitempty" json:"samplingDuration,omitempty"`
}

// RateLimitConfig configures a fixed-window rate limit.
type RateLimitConfig struct {
	Limit     int      `yaml:"limit" json:"limit"`
	Window    Duration `yaml:"window" json:"window"`
	PerClient bool     `yaml:"perClient,omitempty" json:"perClient,omitempty"`
}

// RetryConfig configures the retry policy.
type RetryConfig struct {
	MaxAttempts        int      `yaml:"maxAttempts" json:"maxAttempts"`
	BaseDelay          Duration `yaml:"baseDelay" json:"baseDelay"`
	MaxDelay           Duration `yaml:"maxDelay" json:"maxDelay"`
	ExponentialBackoff bool     `yaml:"exponentialBackoff,omitempty" json:"exponentialBackoff,omitempty"`
	Jitter             float64  `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// ConcurrencyConfig caps in-flight calls.
type ConcurrencyConfig struct {
	MaxConcurrent  int      `yaml:"maxConcurrent" json:"maxConcurrent"`
	AcquireTimeout Duration `yaml:"acquireTimeout,omitempty" json:"acquireTimeout,omitempty"`
}

// ProviderConfig configures a token-validation provider.
type ProviderConfig struct {
	Name           string                `yaml:"name" json:"name"`
	Issuer         string                `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience       []string              `yaml:"audience,omitempty" json:"audience,omitempty"`
	JWKSEndpoint   string                `yaml:"jwksEndpoint" json:"jwksEndpoint"`
	KeySetTTL      Duration              `yaml:"keySetTTL,omitempty" json:"keySetTTL,omitempty"`
	ClockSkew      Duration              `yaml:"clockSkew,omitempty" json:"clockSkew,omitempty"`
	RefreshLimit   int                   `yaml:"refreshLimit,omitempty" json:"refreshLimit,omitempty"`
	RefreshWindow  Duration              `yaml:"refreshWindow,omitempty" json:"refreshWindow,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
}

// Load parses and validates a YAML configuration document.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads, parses and validates a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}
	return Load(data)
}

// Validate checks the whole document. The first offending field is
// reported as a ValidationError.
func (c *Config) Validate() error {
	targetNames := make(map[string]bool, len(c.Targets))
	for i, target := range c.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		if target.Name == "" {
			return &ValidationError{Field: field + ".name", Reason: "name is required"}
		}
		if targetNames[target.Name] {
			return &ValidationError{Field: field + ".name", Reason: fmt.Sprintf("duplicate target %q", target.Name)}
		}
		targetNames[target.Name] = true

		if target.CircuitBreaker != nil {
			if err := target.CircuitBreaker.Breaker().Validate(); err != nil {
				return &ValidationError{Field: field + ".circuitBreaker", Reason: err.Error()}
			}
		}
		if target.RateLimit != nil {
			if err := target.RateLimit.RateLimit().Validate(); err != nil {
				return &ValidationError{Field: field + ".rateLimit", Reason: err.Error()}
			}
		}
		if target.Retry != nil {
			if err := target.Retry.Policy().Validate(); err != nil {
				return &ValidationError{Field: field + ".retry", Reason: err.Error()}
			}
		}
		if target.Concurrency != nil {
			if err := target.Concurrency.Concurrency().Validate(); err != nil {
				return &ValidationError{Field: field + ".concurrency", Reason: err.Error()}
			}
		}
	}

	providerNames := make(map[string]bool, len(c.Providers))
	for i, provider := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if provider.Name == "" {
			return &ValidationError{Field: field + ".name", Reason: "name is required"}
		}
		if providerNames[provider.Name] {
			return &ValidationError{Field: field + ".name", Reason: fmt.Sprintf("duplicate provider %q", provider.Name)}
		}
		providerNames[provider.Name] = true

		if provider.JWKSEndpoint == "" {
			return &ValidationError{Field: field + ".jwksEndpoint", Reason: "jwksEndpoint is required"}
		}
		if err := provider.AuthConfig().Validate(); err != nil {
			return &ValidationError{Field: field, Reason: err.Error()}
		}
		if provider.CircuitBreaker != nil {
			if err := provider.CircuitBreaker.Breaker().Validate(); err != nil {
				return &ValidationError{Field: field + ".circuitBreaker", Reason: err.Error()}
			}
		}
	}

	if c.KeyRefreshInterval < 0 {
		return &ValidationError{Field: "keyRefreshInterval", Reason: "must not be negative"}
	}

	return nil
}

// Breaker converts to the runtime breaker configuration. Optional knobs
// left at zero take their defaults; required thresholds do not, so zeros
// fail validation.
func (c *CircuitBreakerConfig) Breaker() *circuitbreaker.Config {
	out := &circuitbreaker.Config{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		ResetTimeout:     c.ResetTimeout.Duration(),
		HalfOpenMax:      c.HalfOpenMax,
		FailureRatio:     c.FailureRatio,
		MinRequests:      c.MinRequests,
		SamplingDuration: c.SamplingDuration.Duration(),
	}
	defaults := circuitbreaker.DefaultConfig()
	if out.HalfOpenMax == 0 {
		out.HalfOpenMax = defaults.HalfOpenMax
	}
	if out.MinRequests == 0 {
		out.MinRequests = defaults.MinRequests
	}
	if out.SamplingDuration == 0 {
		out.SamplingDuration = defaults.SamplingDuration
	}
	return out
}

// RateLimit converts to the runtime rate limit configuration.
func (c *RateLimitConfig) RateLimit() *ratelimit.Config {
	return &ratelimit.Config{
		Limit:     c.Limit,
		Window:    c.Window.Duration(),
		PerClient: c.PerClient,
	}
}

// Policy converts to the runtime retry policy.
func (c *RetryConfig) Policy() *retry.Policy {
	return &retry.Policy{
		MaxAttempts:           c.MaxAttempts,
		BaseDelay:             c.BaseDelay.Duration(),
		MaxDelay:              c.MaxDelay.Duration(),
		UseExponentialBackoff: c.ExponentialBackoff,
		Jitter:                c.Jitter,
		RetryOn:               []retry.Condition{retry.OnTransientErrors()},
	}
}

// Concurrency converts to the runtime concurrency configuration.
func (c *ConcurrencyConfig) Concurrency() *concurrency.Config {
	return &concurrency.Config{
		MaxConcurrent:  c.MaxConcurrent,
		AcquireTimeout: c.AcquireTimeout.Duration(),
	}
}

// Pipeline converts a target to a pipeline configuration.
func (t *TargetConfig) Pipeline() *pipeline.Config {
	cfg := &pipeline.Config{}
	if t.CircuitBreaker != nil {
		cfg.CircuitBreaker = t.CircuitBreaker.Breaker()
	}
	if t.RateLimit != nil {
		cfg.RateLimit = t.RateLimit.RateLimit()
	}
	if t.Retry != nil {
		cfg.Retry = t.Retry.Policy()
		cfg.Retry.Operation = t.Name
	}
	if t.Concurrency != nil {
		cfg.Concurrency = t.Concurrency.Concurrency()
	}
	return cfg
}

// AuthConfig converts a provider to the runtime auth configuration.
func (p *ProviderConfig) AuthConfig() *auth.Config {
	cfg := &auth.Config{
		Name:          p.Name,
		Issuer:        p.Issuer,
		Audience:      p.Audience,
		JWKSEndpoint:  p.JWKSEndpoint,
		KeySetTTL:     p.KeySetTTL.Duration(),
		ClockSkew:     p.ClockSkew.Duration(),
		RefreshLimit:  p.RefreshLimit,
		RefreshWindow: p.RefreshWindow.Duration(),
	}
	if p.CircuitBreaker != nil {
		cfg.CircuitBreaker = p.CircuitBreaker.Breaker()
	}
	return cfg
}

// AuthConfigs converts all providers.
func (c *Config) AuthConfigs() []*auth.Config {
	out := make([]*auth.Config, 0, len(c.Providers))
	for i := range c.Providers {
		out = append(out, c.Providers[i].AuthConfig())
	}
	return out
}
