// Package concurrency provides bounded in-flight-call admission control.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrOverloaded is returned when a slot cannot be acquired within the
// configured timeout.
var ErrOverloaded = errors.New("concurrency limit reached")

// Config holds configuration for a concurrency limiter.
type Config struct {
	// MaxConcurrent is the maximum number of in-flight calls. Default is 100.
	MaxConcurrent int

	// AcquireTimeout bounds how long a caller waits for a slot before
	// being rejected with ErrOverloaded. Zero rejects immediately when no
	// slot is free.
	AcquireTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:  100,
		AcquireTimeout: time.Second,
	}
}

// Validate checks the configuration at startup.
func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("concurrency: max concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.AcquireTimeout < 0 {
		return fmt.Errorf("concurrency: acquire timeout must be >= 0, got %s", c.AcquireTimeout)
	}
	return nil
}

// Limiter bounds the number of in-flight calls for one target. Waiters
// suspend on a channel, so cancellation wakes them immediately and no
// goroutine busy-spins.
type Limiter struct {
	name    string
	slots   chan struct{}
	timeout time.Duration
	current atomic.Int64
	logger  *zap.Logger
}

// NewLimiter creates a concurrency limiter for the named target. The
// config must already be validated.
func NewLimiter(name string, cfg *Config, logger *zap.Logger) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Limiter{
		name:    name,
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		timeout: cfg.AcquireTimeout,
		logger:  logger,
	}
}

// Acquire obtains an in-flight slot, waiting up to the acquire timeout.
// It returns ErrOverloaded when the limiter is saturated for the whole
// wait, or ctx.Err() if the caller is cancelled first. A nil return means
// the caller holds a slot and must Release it on every exit path.
func (l *Limiter) Acquire(ctx context.Context) error {
	// Fast path: free slot available.
	select {
	case l.slots <- struct{}{}:
		l.acquired()
		return nil
	default:
	}

	if l.timeout == 0 {
		recordRejected(l.name)
		return ErrOverloaded
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.acquired()
		return nil
	case <-timer.C:
		l.logger.Warn("concurrency limit reached",
			zap.String("target", l.name),
			zap.Int64("inFlight", l.current.Load()),
		)
		recordRejected(l.name)
		return ErrOverloaded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire obtains a slot without waiting.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.acquired()
		return true
	default:
		return false
	}
}

// Release returns a slot. It must be called exactly once per successful
// Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
		current := l.current.Add(-1)
		recordInFlight(l.name, current)
	default:
		// Release without a matching Acquire; nothing to return.
	}
}

// Current returns the number of in-flight calls.
func (l *Limiter) Current() int64 {
	return l.current.Load()
}

// MaxConcurrent returns the limiter capacity.
func (l *Limiter) MaxConcurrent() int {
	return cap(l.slots)
}

func (l *Limiter) acquired() {
	current := l.current.Add(1)
	recordInFlight(l.name, current)
}
