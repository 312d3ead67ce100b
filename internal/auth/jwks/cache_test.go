package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tokengate/tokengate/internal/circuitbreaker"
	"github.com/tokengate/tokengate/internal/ratelimit"
)

func testKeySet(t *testing.T) jwk.Set {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(privateKey.Public())
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key-id"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))
	return set
}

// countingFetcher returns a fixed set or error and counts calls.
type countingFetcher struct {
	set   jwk.Set
	err   error
	calls atomic.Int64
}

func (f *countingFetcher) Fetch(context.Context) (jwk.Set, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.set, nil
}

func TestCache_ColdStartFetches(t *testing.T) {
	fetcher := &countingFetcher{set: testKeySet(t)}
	cache := NewCache("test", fetcher, time.Hour)

	set, err := cache.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, int64(1), fetcher.calls.Load())
	assert.True(t, cache.Valid())
	assert.False(t, cache.LastRefresh().IsZero())
}

func TestCache_ServesCachedWhileFresh(t *testing.T) {
	fetcher := &countingFetcher{set: testKeySet(t)}
	cache := NewCache("test", fetcher, time.Hour)

	ctx := context.Background()
	_, err := cache.Keys(ctx)
	require.NoError(t, err)
	_, err = cache.Keys(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), fetcher.calls.Load(), "fresh keys do not refetch")
}

func TestCache_StaleTriggersRefresh(t *testing.T) {
	fetcher := &countingFetcher{set: testKeySet(t)}
	cache := NewCache("test", fetcher, 10*time.Millisecond)

	ctx := context.Background()
	_, err := cache.Keys(ctx)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestCache_ServesStaleOnRefreshFailure(t *testing.T) {
	fetcher := &countingFetcher{set: testKeySet(t)}
	cache := NewCache("test", fetcher, 10*time.Millisecond, WithLogger(zap.NewNop()))

	ctx := context.Background()
	_, err := cache.Keys(ctx)
	require.NoError(t, err)

	fetcher.err = errors.New("endpoint unreachable")
	time.Sleep(20 * time.Millisecond)

	set, err := cache.Keys(ctx)
	require.NoError(t, err, "stale keys keep serving")
	assert.Equal(t, 1, set.Len())
	assert.False(t, cache.Valid())
	assert.Error(t, cache.LastError())
}

func TestCache_ColdStartFailureSurfaces(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("endpoint unreachable")}
	cache := NewCache("test", fetcher, time.Hour)

	_, err := cache.Keys(context.Background())
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestCache_RateLimitedRefreshServesStale(t *testing.T) {
	fetcher := &countingFetcher{set: testKeySet(t)}
	limiter := ratelimit.NewFixedWindowLimiter("test", &ratelimit.Config{Limit: 1, Window: time.Hour})
	cache := NewCache("test", fetcher, 10*time.Millisecond, WithRefreshLimiter(limiter))

	ctx := context.Background()
	_, err := cache.Keys(ctx)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	set, err := cache.Keys(ctx)
	require.NoError(t, err, "rate limited refresh serves stale keys")
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, int64(1), fetcher.calls.Load(), "denied refresh never fetches")
}

func TestCache_OpenBreakerServesStale(t *testing.T) {
	fetcher := &countingFetcher{set: testKeySet(t)}
	cfg := circuitbreaker.DefaultConfig().WithFailureThreshold(1).WithResetTimeout(time.Hour)
	cb := circuitbreaker.New("test", cfg, zap.NewNop())
	cache := NewCache("test", fetcher, 10*time.Millisecond, WithCircuitBreaker(cb))

	ctx := context.Background()
	_, err := cache.Keys(ctx)
	require.NoError(t, err)

	cb.RecordFailure()
	require.Equal(t, circuitbreaker.StateOpen, cb.State())
	time.Sleep(20 * time.Millisecond)

	set, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, int64(1), fetcher.calls.Load(), "open circuit never fetches")
}

func TestCache_FetchOutcomesRecordedOnBreaker(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("endpoint unreachable")}
	cfg := circuitbreaker.DefaultConfig().WithFailureThreshold(2)
	cb := circuitbreaker.New("test", cfg, zap.NewNop())
	cache := NewCache("test", fetcher, time.Hour, WithCircuitBreaker(cb))

	ctx := context.Background()
	_, err := cache.Keys(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, cb.Stats().Failures)

	fetcher.err = nil
	fetcher.set = testKeySet(t)
	require.NoError(t, cache.Refresh(ctx))
	assert.Equal(t, 0, cb.Stats().Failures, "success resets the failure run")
}

func TestCache_RefreshForcesEvenWhenFresh(t *testing.T) {
	fetcher := &countingFetcher{set: testKeySet(t)}
	cache := NewCache("test", fetcher, time.Hour)

	ctx := context.Background()
	_, err := cache.Keys(ctx)
	require.NoError(t, err)

	require.NoError(t, cache.Refresh(ctx))
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestCache_RefreshObserver(t *testing.T) {
	fetcher := &countingFetcher{set: testKeySet(t)}
	var statuses []string
	cache := NewCache("test", fetcher, time.Hour,
		WithRefreshObserver(func(status string, _ time.Duration) {
			statuses = append(statuses, status)
		}),
	)

	ctx := context.Background()
	require.NoError(t, cache.Refresh(ctx))

	fetcher.err = errors.New("endpoint unreachable")
	require.Error(t, cache.Refresh(ctx))

	assert.Equal(t, []string{"success", "error"}, statuses)
}

func TestCache_StartAutoRefresh(t *testing.T) {
	fetcher := &countingFetcher{set: testKeySet(t)}
	cache := NewCache("test", fetcher, time.Hour)
	defer cache.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache.StartAutoRefresh(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return fetcher.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cache.Stop()
	calls := fetcher.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, fetcher.calls.Load(), calls+1, "stopped loop fetches no more")
}

func TestHTTPFetcher(t *testing.T) {
	set := testKeySet(t)
	payload, err := json.Marshal(set)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.URL, nil)
	assert.Equal(t, server.URL, fetcher.URL())

	fetched, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetched.Len())
}

func TestHTTPFetcher_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.URL, nil)
	_, err := fetcher.Fetch(context.Background())
	assert.Error(t, err)
}

func TestStaticFetcher(t *testing.T) {
	set := testKeySet(t)
	payload, err := json.Marshal(set)
	require.NoError(t, err)

	fetcher, err := NewStaticFetcher(payload)
	require.NoError(t, err)

	fetched, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetched.Len())

	_, err = NewStaticFetcher([]byte("not json"))
	assert.Error(t, err)
}
