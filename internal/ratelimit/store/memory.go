package store

import (
	"context"
	"sync"
	"time"
)

// entry represents a stored value with expiration.
type entry struct {
	mu         sync.Mutex
	value      int64
	expiration time.Time
}

// MemoryStore implements Store using in-memory storage. Expired entries
// are reaped by a background ticker.
type MemoryStore struct {
	data    sync.Map
	cleanup *time.Ticker
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithCleanupInterval(time.Minute)
}

// NewMemoryStoreWithCleanupInterval creates a new in-memory store with a
// custom cleanup interval.
func NewMemoryStoreWithCleanupInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		cleanup: time.NewTicker(interval),
		done:    make(chan struct{}),
	}

	go s.startCleanup()

	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	value, ok := s.data.Load(key)
	if !ok {
		return 0, &ErrKeyNotFound{Key: key}
	}

	e := value.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.expiration.IsZero() && time.Now().After(e.expiration) {
		s.data.Delete(key)
		return 0, &ErrKeyNotFound{Key: key}
	}

	return e.value, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := &entry{value: value}
	if expiration > 0 {
		e.expiration = time.Now().Add(expiration)
	}
	s.data.Store(key, e)

	return nil
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	value, _ := s.data.LoadOrStore(key, &entry{})
	e := value.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if !e.expiration.IsZero() && now.After(e.expiration) {
		e.value = 0
		e.expiration = time.Time{}
	}

	fresh := e.value == 0
	e.value += delta
	if fresh && expiration > 0 {
		e.expiration = now.Add(expiration)
	}

	return e.value, nil
}

// IncrementIfUnder implements Store. The entry mutex makes the check and
// the increment one atomic step.
func (s *MemoryStore) IncrementIfUnder(ctx context.Context, key string, delta, limit int64, expiration time.Duration) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	value, _ := s.data.LoadOrStore(key, &entry{})
	e := value.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if !e.expiration.IsZero() && now.After(e.expiration) {
		e.value = 0
		e.expiration = time.Time{}
	}

	if e.value+delta > limit {
		return e.value, false, nil
	}

	fresh := e.value == 0
	e.value += delta
	if fresh && expiration > 0 {
		e.expiration = now.Add(expiration)
	}

	return e.value, true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.data.Delete(key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.cleanup.Stop()
		close(s.done)
	}

	return nil
}

// startCleanup reaps expired entries until Close is called.
func (s *MemoryStore) startCleanup() {
	for {
		select {
		case <-s.done:
			return
		case <-s.cleanup.C:
			now := time.Now()
			s.data.Range(func(key, value interface{}) bool {
				e := value.(*entry)
				e.mu.Lock()
				expired := !e.expiration.IsZero() && now.After(e.expiration)
				e.mu.Unlock()
				if expired {
					s.data.Delete(key)
				}
				return true
			})
		}
	}
}
