package circuitbreaker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(DefaultConfig(), zap.NewNop())

	cb1 := r.GetOrCreate("provider-a")
	require.NotNil(t, cb1)

	cb2 := r.GetOrCreate("provider-a")
	assert.Same(t, cb1, cb2, "one breaker per target")

	cb3 := r.GetOrCreate("provider-b")
	assert.NotSame(t, cb1, cb3, "breakers are never shared across targets")
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_GetMissing(t *testing.T) {
	r := NewRegistry(nil, nil)
	assert.Nil(t, r.Get("unknown"))
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	r := NewRegistry(DefaultConfig(), zap.NewNop())

	const goroutines = 16
	breakers := make([]*CircuitBreaker, goroutines)
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			breakers[idx] = r.GetOrCreate("shared-target")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, breakers[0], breakers[i])
	}
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_IsolatedState(t *testing.T) {
	cfg := DefaultConfig().WithFailureThreshold(1)
	r := NewRegistry(cfg, zap.NewNop())

	a := r.GetOrCreate("target-a")
	b := r.GetOrCreate("target-b")

	a.RecordFailure()

	assert.Equal(t, StateOpen, a.State())
	assert.Equal(t, StateClosed, b.State(), "failure on one target never affects another")
}

func TestRegistry_ResetAllAndStats(t *testing.T) {
	cfg := DefaultConfig().WithFailureThreshold(1)
	r := NewRegistry(cfg, zap.NewNop())

	r.GetOrCreate("x").RecordFailure()
	r.GetOrCreate("y").RecordFailure()

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, StateOpen, stats["x"].State)

	r.ResetAll()
	for name, s := range r.Stats() {
		assert.Equal(t, StateClosed, s.State, "breaker %s", name)
	}
}
