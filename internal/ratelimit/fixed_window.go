package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokengate/tokengate/internal/ratelimit/store"
)

// FixedWindowLimiter implements fixed-window admission control. A window
// for a key starts at its first admitted request and expires a full window
// later; an expired window resets the count. Bursts at the window seam can
// admit up to twice the limit across two adjacent windows; this is a known
// trade-off of the fixed-window algorithm.
type FixedWindowLimiter struct {
	name      string
	store     store.Store
	limit     int
	window    time.Duration
	perClient bool
	logger    *zap.Logger

	// In-memory state for local rate limiting.
	counters sync.Map
}

// windowCounter tracks one key's window.
type windowCounter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// Option is a functional option for the fixed window limiter.
type Option func(*FixedWindowLimiter)

// WithStore backs the limiter with a shared store instead of local memory.
func WithStore(s store.Store) Option {
	return func(l *FixedWindowLimiter) {
		l.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *FixedWindowLimiter) {
		l.logger = logger
	}
}

// NewFixedWindowLimiter creates a fixed window limiter for the named
// target. The config must already be validated.
func NewFixedWindowLimiter(name string, cfg *Config, opts ...Option) *FixedWindowLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &FixedWindowLimiter{
		name:      name,
		limit:     cfg.Limit,
		window:    cfg.Window,
		perClient: cfg.PerClient,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// effectiveKey resolves the window key: the supplied client key when the
// limiter is partitioned per client, a single shared key otherwise.
func (l *FixedWindowLimiter) effectiveKey(key string) string {
	if !l.perClient || key == "" {
		return GlobalKey
	}
	return key
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	k := l.effectiveKey(key)

	var res *Result
	var err error
	if l.store == nil {
		res, err = l.allowLocal(k, n)
	} else {
		res, err = l.allowShared(ctx, k, n)
	}
	if err != nil {
		return nil, err
	}

	recordDecision(l.name, res)
	return res, nil
}

// allowLocal performs rate limiting against in-memory window state.
func (l *FixedWindowLimiter) allowLocal(key string, n int) (*Result, error) {
	now := time.Now()

	value, _ := l.counters.LoadOrStore(key, &windowCounter{})
	wc := value.(*windowCounter)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	// A zero windowStart means no window exists yet for this key.
	if wc.windowStart.IsZero() || now.Sub(wc.windowStart) >= l.window {
		wc.count = 0
		wc.windowStart = now
	}

	allowed := wc.count+n <= l.limit
	if allowed {
		wc.count += n
	}

	remaining := l.limit - wc.count
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := wc.windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// allowShared performs rate limiting against a shared store. The window
// key lives for one window after its first increment, which matches the
// first-request-starts-the-window semantics of the local path. The check
// and the increment are one atomic store operation, so concurrent
// callers in any number of processes cannot drive the window past its
// limit.
func (l *FixedWindowLimiter) allowShared(ctx context.Context, key string, n int) (*Result, error) {
	storeKey := fmt.Sprintf("%s:%s", l.name, key)

	count, allowed, err := l.store.IncrementIfUnder(ctx, storeKey, int64(n), int64(l.limit), l.window)
	if err != nil {
		return nil, err
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = l.window
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: l.window,
		RetryAfter: retryAfter,
	}, nil
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	k := l.effectiveKey(key)
	l.counters.Delete(k)

	if l.store != nil {
		storeKey := fmt.Sprintf("%s:%s", l.name, k)
		if err := l.store.Delete(ctx, storeKey); err != nil {
			l.logger.Warn("failed to delete window counter",
				zap.String("key", storeKey),
				zap.Error(err),
			)
			return err
		}
	}

	return nil
}

// Cleanup removes expired window counters from local memory.
func (l *FixedWindowLimiter) Cleanup() {
	now := time.Now()

	l.counters.Range(func(key, value interface{}) bool {
		wc := value.(*windowCounter)
		wc.mu.Lock()
		expired := !wc.windowStart.IsZero() && now.Sub(wc.windowStart) >= l.window
		wc.mu.Unlock()

		if expired {
			l.counters.Delete(key)
		}
		return true
	})
}
