package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry holds the configured providers by name. It is built once at
// startup and read concurrently without locking afterwards.
type Registry struct {
	providers map[string]Provider
	logger    *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry builds a registry from the given providers. Duplicate
// names fail construction.
func NewRegistry(providers []Provider, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}

	for _, p := range providers {
		name := p.Name()
		if name == "" {
			return nil, fmt.Errorf("provider with empty name")
		}
		if _, exists := r.providers[name]; exists {
			return nil, fmt.Errorf("duplicate provider name %q", name)
		}
		r.providers[name] = p
		logger.Info("registered auth provider", zap.String("provider", name))
	}

	return r, nil
}

// NewRegistryFromConfig constructs providers from their configurations
// and registers them.
func NewRegistryFromConfig(configs []*Config, logger *zap.Logger, opts ...ProviderOption) (*Registry, error) {
	providers := make([]Provider, 0, len(configs))
	for _, cfg := range configs {
		withLogger := append([]ProviderOption{WithLogger(logger)}, opts...)
		p, err := NewProvider(cfg, withLogger...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return NewRegistry(providers, logger)
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrProviderNotFound)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	return len(r.providers)
}

// CheckHealth returns a health snapshot per provider.
func (r *Registry) CheckHealth() map[string]Health {
	statuses := make(map[string]Health, len(r.providers))
	for name, p := range r.providers {
		statuses[name] = p.HealthCheck()
	}
	return statuses
}

// RefreshAll forces a key set refresh on every provider. The first
// error is returned after all providers have been attempted.
func (r *Registry) RefreshAll(ctx context.Context) error {
	var firstErr error
	for name, p := range r.providers {
		if err := p.RefreshKeys(ctx); err != nil {
			r.logger.Error("key set refresh failed",
				zap.String("provider", name),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// StartKeyRefresh refreshes all providers' key sets in the background
// at the given interval until the context is cancelled or Stop is
// called.
func (r *Registry) StartKeyRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				if err := r.RefreshAll(ctx); err != nil {
					r.logger.Warn("background key refresh incomplete", zap.Error(err))
				}
			}
		}
	}()
}

// Stop terminates the background refresh loop.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}
