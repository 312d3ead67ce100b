package auth

import (
	"fmt"
	"time"

	"github.com/tokengate/tokengate/internal/circuitbreaker"
)

// Config describes a single token-validation provider.
type Config struct {
	// Name identifies the provider in the registry. Required, unique.
	Name string `yaml:"name" json:"name"`

	// Issuer is matched against the token's iss claim when non-empty.
	Issuer string `yaml:"issuer,omitempty" json:"issuer,omitempty"`

	// Audience lists acceptable aud values; the token must carry at
	// least one of them when the list is non-empty.
	Audience []string `yaml:"audience,omitempty" json:"audience,omitempty"`

	// JWKSEndpoint is the key set URL. Required unless a custom fetcher
	// is supplied at construction.
	JWKSEndpoint string `yaml:"jwksEndpoint,omitempty" json:"jwksEndpoint,omitempty"`

	// KeySetTTL is the validity window of fetched keys. Default 1h.
	KeySetTTL time.Duration `yaml:"keySetTTL,omitempty" json:"keySetTTL,omitempty"`

	// ClockSkew is the tolerance applied to exp/nbf checks. Default 0.
	ClockSkew time.Duration `yaml:"clockSkew,omitempty" json:"clockSkew,omitempty"`

	// RefreshLimit caps key set refresh attempts per RefreshWindow.
	// Default 10 per minute.
	RefreshLimit int           `yaml:"refreshLimit,omitempty" json:"refreshLimit,omitempty"`
	RefreshWindow time.Duration `yaml:"refreshWindow,omitempty" json:"refreshWindow,omitempty"`

	// CircuitBreaker configures the provider's breaker. Nil uses defaults.
	CircuitBreaker *circuitbreaker.Config `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
}

// withDefaults returns a copy with unset fields filled in.
func (c *Config) withDefaults() *Config {
	out := *c
	if out.KeySetTTL == 0 {
		out.KeySetTTL = time.Hour
	}
	if out.RefreshLimit == 0 {
		out.RefreshLimit = 10
	}
	if out.RefreshWindow == 0 {
		out.RefreshWindow = time.Minute
	}
	if out.CircuitBreaker == nil {
		out.CircuitBreaker = circuitbreaker.DefaultConfig()
	}
	return &out
}

// Validate checks the configuration. Explicitly set negative or
// senseless values fail here rather than at call time.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if c.KeySetTTL < 0 {
		return fmt.Errorf("provider %q: keySetTTL must not be negative", c.Name)
	}
	if c.ClockSkew < 0 {
		return fmt.Errorf("provider %q: clockSkew must not be negative", c.Name)
	}
	if c.RefreshLimit < 0 {
		return fmt.Errorf("provider %q: refreshLimit must not be negative", c.Name)
	}
	if c.RefreshWindow < 0 {
		return fmt.Errorf("provider %q: refreshWindow must not be negative", c.Name)
	}
	if c.CircuitBreaker != nil {
		if err := c.CircuitBreaker.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", c.Name, err)
		}
	}
	return nil
}
