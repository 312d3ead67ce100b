package retry

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// Condition classifies whether a failure should trigger a retry.
type Condition interface {
	// ShouldRetry returns true if the call should be retried.
	ShouldRetry(err error) bool
}

// Transient marks an error as transient. Errors implementing it are
// retried by OnTransientErrors.
type Transient interface {
	error
	Transient() bool
}

// transientError wraps an error with the transient marker.
type transientError struct {
	err error
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Transient() bool { return true }

// MarkTransient wraps err so transient-error conditions retry it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// ErrorTypeCondition retries on specific error values.
type ErrorTypeCondition struct {
	errors []error
}

// OnErrors creates a condition that retries when the failure matches any
// of the given errors via errors.Is.
func OnErrors(errs ...error) *ErrorTypeCondition {
	return &ErrorTypeCondition{errors: errs}
}

// ShouldRetry implements Condition.
func (c *ErrorTypeCondition) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range c.errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TransientErrorCondition retries on errors carrying the Transient marker.
type TransientErrorCondition struct{}

// OnTransientErrors creates a condition that retries transient-marked
// errors.
func OnTransientErrors() *TransientErrorCondition {
	return &TransientErrorCondition{}
}

// ShouldRetry implements Condition.
func (c *TransientErrorCondition) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var t Transient
	return errors.As(err, &t) && t.Transient()
}

// NetworkErrorCondition retries on network-level errors.
type NetworkErrorCondition struct{}

// OnNetworkErrors creates a condition that retries on network errors such
// as timeouts, refused connections and unexpected EOF.
func OnNetworkErrors() *NetworkErrorCondition {
	return &NetworkErrorCondition{}
}

// ShouldRetry implements Condition.
func (c *NetworkErrorCondition) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	return errors.Is(err, io.ErrUnexpectedEOF)
}

// AlwaysCondition retries every failure.
type AlwaysCondition struct{}

// OnAnyError creates a condition that retries every failure.
func OnAnyError() *AlwaysCondition {
	return &AlwaysCondition{}
}

// ShouldRetry implements Condition.
func (c *AlwaysCondition) ShouldRetry(err error) bool {
	return err != nil
}
