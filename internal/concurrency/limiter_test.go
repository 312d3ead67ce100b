package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLimiter_AcquireUpToMax(t *testing.T) {
	cfg := &Config{MaxConcurrent: 2, AcquireTimeout: 0}
	l := NewLimiter("test", cfg, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, ErrOverloaded, "saturated limiter rejects with zero timeout")
	assert.Equal(t, int64(2), l.Current())
}

func TestLimiter_ReleaseFreesSlot(t *testing.T) {
	cfg := &Config{MaxConcurrent: 1, AcquireTimeout: 0}
	l := NewLimiter("test", cfg, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))
	require.ErrorIs(t, l.Acquire(ctx), ErrOverloaded)

	l.Release()
	assert.Equal(t, int64(0), l.Current())
	require.NoError(t, l.Acquire(ctx))
}

func TestLimiter_WaiterGetsSlotOnRelease(t *testing.T) {
	cfg := &Config{MaxConcurrent: 1, AcquireTimeout: time.Second}
	l := NewLimiter("test", cfg, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	acquired := make(chan error, 1)
	go func() {
		acquired <- l.Acquire(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	l.Release()

	select {
	case err := <-acquired:
		assert.NoError(t, err, "waiter acquires the released slot")
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired")
	}
}

func TestLimiter_AcquireTimeoutFailsClosed(t *testing.T) {
	cfg := &Config{MaxConcurrent: 1, AcquireTimeout: 20 * time.Millisecond}
	l := NewLimiter("test", cfg, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	start := time.Now()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, ErrOverloaded)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLimiter_CancellationWhileWaiting(t *testing.T) {
	cfg := &Config{MaxConcurrent: 1, AcquireTimeout: time.Minute}
	l := NewLimiter("test", cfg, zap.NewNop())

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), l.Current(), "cancelled waiter holds no slot")
}

func TestLimiter_TryAcquire(t *testing.T) {
	cfg := &Config{MaxConcurrent: 1, AcquireTimeout: 0}
	l := NewLimiter("test", cfg, zap.NewNop())

	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestLimiter_ConcurrentLoadNeverExceedsMax(t *testing.T) {
	const max = 5
	cfg := &Config{MaxConcurrent: max, AcquireTimeout: time.Second}
	l := NewLimiter("test", cfg, zap.NewNop())

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				return
			}
			defer l.Release()

			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(max))
	assert.Equal(t, int64(0), l.Current())
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{MaxConcurrent: 0}).Validate())
	assert.Error(t, (&Config{MaxConcurrent: 1, AcquireTimeout: -time.Second}).Validate())
}
