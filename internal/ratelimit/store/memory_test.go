package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.True(t, IsKeyNotFound(err))

	require.NoError(t, s.Set(ctx, "k", 42, 0))
	value, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(42), value)
}

func TestMemoryStore_Expiration(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", 1, 20*time.Millisecond))

	time.Sleep(25 * time.Millisecond)

	_, err := s.Get(ctx, "k")
	assert.True(t, IsKeyNotFound(err), "expired key behaves as missing")
}

func TestMemoryStore_IncrementWithExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	value, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)

	value, err = s.IncrementWithExpiry(ctx, "counter", 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)
}

func TestMemoryStore_IncrementIfUnder(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, allowed, err := s.IncrementIfUnder(ctx, "win", 1, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, int64(i), count)
	}

	count, allowed, err := s.IncrementIfUnder(ctx, "win", 1, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(3), count, "denied increment leaves the count untouched")
}

func TestMemoryStore_IncrementIfUnderExpiryStartsFresh(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	_, allowed, err := s.IncrementIfUnder(ctx, "win", 2, 2, 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, allowed)

	_, allowed, err = s.IncrementIfUnder(ctx, "win", 1, 2, 20*time.Millisecond)
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(25 * time.Millisecond)

	count, allowed, err := s.IncrementIfUnder(ctx, "win", 1, 2, 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_IncrementIfUnderConcurrent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()
	const limit = 5

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, allowed, err := s.IncrementIfUnder(ctx, "win", 1, limit, time.Minute)
			if err == nil && allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), admitted.Load())

	count, err := s.Get(ctx, "win")
	require.NoError(t, err)
	assert.Equal(t, int64(limit), count, "count never exceeds the limit")
}

func TestMemoryStore_IncrementAfterExpiryStartsFresh(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "counter", 5, 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	value, err := s.IncrementWithExpiry(ctx, "counter", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", 1, 0))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_CleanupReapsExpired(t *testing.T) {
	s := NewMemoryStoreWithCleanupInterval(10 * time.Millisecond)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", 1, 5*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	_, loaded := s.data.Load("k")
	assert.False(t, loaded)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
