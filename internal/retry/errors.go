package retry

import (
	"errors"
	"fmt"
)

// ExhaustedError is returned after the attempt budget is spent. It wraps
// the last concrete failure rather than hiding it behind a generic error.
type ExhaustedError struct {
	// Operation names the call that was retried.
	Operation string

	// Attempts is the number of attempts made.
	Attempts int

	// Err is the failure of the final attempt.
	Err error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("retries exhausted for %s after %d attempts: %v", e.Operation, e.Attempts, e.Err)
	}
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying failure.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err is a retries-exhausted error.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}
