// Package store provides storage backends for rate limiting.
package store

import (
	"context"
	"errors"
	"time"
)

// Store defines the interface for rate limit window storage.
type Store interface {
	// Get retrieves the value for the given key.
	Get(ctx context.Context, key string) (int64, error)

	// Set sets the value for the given key with an expiration.
	Set(ctx context.Context, key string, value int64, expiration time.Duration) error

	// IncrementWithExpiry increments the value and sets the expiration if
	// the key is new.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// IncrementIfUnder increments the value by delta only when the result
	// would not exceed limit, setting the expiration if the key is new.
	// The check and the increment are a single atomic operation. It
	// returns the stored count after the operation and whether the
	// increment was applied.
	IncrementIfUnder(ctx context.Context, key string, delta, limit int64, expiration time.Duration) (int64, bool, error)

	// Delete removes the key from the store.
	Delete(ctx context.Context, key string) error

	// Close closes the store and releases resources.
	Close() error
}

// ErrKeyNotFound is returned when a key is not found in the store.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "key not found: " + e.Key
}

// IsKeyNotFound returns true if the error is a key not found error.
func IsKeyNotFound(err error) bool {
	var notFound *ErrKeyNotFound
	return errors.As(err, &notFound)
}
