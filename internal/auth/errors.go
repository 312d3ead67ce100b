package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProviderNotFound is returned by the registry for unknown provider names.
	ErrProviderNotFound = errors.New("auth provider not found")

	// ErrValidationFailed marks token-content failures. These never count
	// against the provider's circuit breaker.
	ErrValidationFailed = errors.New("token validation failed")

	// ErrProviderError marks infrastructure faults: key fetch failures,
	// provider unreachable. These trip the circuit breaker.
	ErrProviderError = errors.New("auth provider error")

	// ErrEmptyToken is returned when an empty token string is supplied.
	ErrEmptyToken = errors.New("token is empty")
)

// AuthError carries the provider name and failure time alongside the
// underlying error.
type AuthError struct {
	Provider string
	Time     time.Time
	Err      error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %q: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

func newAuthError(provider string, err error) *AuthError {
	return &AuthError{
		Provider: provider,
		Time:     time.Now(),
		Err:      err,
	}
}

// IsValidationFailed reports whether err is a token-content failure.
func IsValidationFailed(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

// IsProviderError reports whether err is an infrastructure fault.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProviderError)
}
