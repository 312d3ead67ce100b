package jwks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"github.com/tokengate/tokengate/internal/circuitbreaker"
	"github.com/tokengate/tokengate/internal/ratelimit"
)

// ErrRefreshFailed is returned when no cached keys exist and the refresh
// could not produce any.
var ErrRefreshFailed = errors.New("key set refresh failed")

// Cache holds a verification key set with a validity window. Stale reads
// trigger a refresh gated by the owning provider's refresh rate limiter
// and circuit breaker; when either denies the attempt, or the fetch
// fails, previously cached keys keep serving validation.
type Cache struct {
	name    string
	fetcher Fetcher
	ttl     time.Duration

	limiter   ratelimit.Limiter
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
	onRefresh func(status string, duration time.Duration)

	mu          sync.RWMutex
	keys        jwk.Set
	lastRefresh time.Time
	lastErr     error

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithRefreshLimiter gates refresh attempts with a rate limiter.
func WithRefreshLimiter(l ratelimit.Limiter) Option {
	return func(c *Cache) {
		c.limiter = l
	}
}

// WithCircuitBreaker gates refresh attempts with the provider's breaker
// and records fetch outcomes on it.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Cache) {
		c.breaker = cb
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithRefreshObserver registers a callback invoked after every actual
// fetch attempt with its outcome and duration.
func WithRefreshObserver(fn func(status string, duration time.Duration)) Option {
	return func(c *Cache) {
		c.onRefresh = fn
	}
}

// NewCache creates a key-set cache. A non-positive ttl defaults to one hour.
func NewCache(name string, fetcher Fetcher, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}

	c := &Cache{
		name:    name,
		fetcher: fetcher,
		ttl:     ttl,
		logger:  zap.NewNop(),
		stopCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Keys returns the cached key set, refreshing first when it is stale.
// A denied or failed refresh serves the stale keys when any exist; with
// no cached keys at all the error wraps ErrRefreshFailed.
func (c *Cache) Keys(ctx context.Context) (jwk.Set, error) {
	c.mu.RLock()
	keys := c.keys
	fresh := keys != nil && time.Since(c.lastRefresh) < c.ttl
	c.mu.RUnlock()

	if fresh {
		return keys, nil
	}

	set, err := c.attempt(ctx)
	if err == nil {
		return set, nil
	}

	if keys != nil {
		c.logger.Warn("serving stale key set",
			zap.String("provider", c.name),
			zap.Error(err),
		)
		return keys, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
}

// Refresh forces a fetch regardless of the validity window, bypassing
// the admission gates. Callers that need gating run it themselves.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err := c.fetch(ctx)
	return err
}

// attempt runs one gated refresh: rate limiter, then circuit breaker,
// then the fetch. Fetch outcomes are recorded on the breaker; admission
// denials are not.
func (c *Cache) attempt(ctx context.Context) (jwk.Set, error) {
	if c.limiter != nil {
		res, err := c.limiter.Allow(ctx, ratelimit.GlobalKey)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return nil, ratelimit.ErrRateLimited
		}
	}

	if c.breaker != nil && !c.breaker.Allow() {
		return nil, circuitbreaker.ErrCircuitOpen
	}

	set, err := c.fetch(ctx)
	if err != nil && c.breaker != nil && ctx.Err() != nil {
		// A cancelled fetch recorded no outcome; release the admission
		// so a half-open probe slot is not lost.
		c.breaker.Abandon()
	}
	return set, err
}

// fetch performs the fetch, records the outcome and stores the result.
func (c *Cache) fetch(ctx context.Context) (jwk.Set, error) {
	start := time.Now()
	set, err := c.fetcher.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			if c.breaker != nil {
				c.breaker.RecordFailure()
			}
			c.observe("error", time.Since(start))
		}

		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()

		c.logger.Error("key set refresh failed",
			zap.String("provider", c.name),
			zap.Error(err),
		)
		return nil, err
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	c.observe("success", time.Since(start))

	c.mu.Lock()
	c.keys = set
	c.lastRefresh = time.Now()
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info("key set refreshed",
		zap.String("provider", c.name),
		zap.Int("keyCount", set.Len()),
	)
	return set, nil
}

func (c *Cache) observe(status string, duration time.Duration) {
	if c.onRefresh != nil {
		c.onRefresh(status, duration)
	}
}

// Valid reports whether cached keys exist and are within their validity
// window.
func (c *Cache) Valid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys != nil && time.Since(c.lastRefresh) < c.ttl
}

// LastRefresh returns the time of the last successful refresh.
func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// LastError returns the error of the most recent failed refresh, or nil
// after a successful one.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Name returns the owning provider's name.
func (c *Cache) Name() string {
	return c.name
}

// StartAutoRefresh refreshes the key set in the background at the given
// interval. A non-positive interval defaults to half the TTL. Demand
// driven refresh through Keys remains active alongside.
func (c *Cache) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl / 2
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := c.Refresh(ctx); err != nil {
			c.logger.Error("initial key set fetch failed",
				zap.String("provider", c.name),
				zap.Error(err),
			)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					c.logger.Error("background key set refresh failed",
						zap.String("provider", c.name),
						zap.Error(err),
					)
				}
			}
		}
	}()
}

// Stop terminates the auto-refresh goroutine.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}
