package auth

import (
	"time"
)

// Health is a point-in-time snapshot of a provider's readiness, serialized
// for an external health endpoint.
type Health struct {
	Ready        bool      `json:"ready"`
	CircuitState string    `json:"circuit_state"`
	JWKSValid    bool      `json:"jwks_valid"`
	LastRefresh  time.Time `json:"last_refresh"`
	Error        *string   `json:"error"`
}

func healthError(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
