// Package health aggregates provider readiness into health and readiness
// probe handlers for an external HTTP mux.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/tokengate/tokengate/internal/auth"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component is degraded but operational.
	StatusDegraded Status = "degraded"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check represents an individual readiness check result.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc is a function that performs a readiness check.
type CheckFunc func() Check

// Checker aggregates readiness checks and serves probe endpoints.
type Checker struct {
	version   string
	startTime time.Time
	checks    map[string]CheckFunc
	registry  *auth.Registry
	mu        sync.RWMutex
}

// NewChecker creates a new health checker.
func NewChecker(version string) *Checker {
	return &Checker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// RegisterCheck registers a readiness check function.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes a readiness check function.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// RegisterProviders registers one readiness check per provider in the
// registry and enables the providers endpoint.
func (c *Checker) RegisterProviders(registry *auth.Registry) {
	c.mu.Lock()
	c.registry = registry
	c.mu.Unlock()

	for _, name := range registry.Names() {
		provider, err := registry.Get(name)
		if err != nil {
			continue
		}
		c.RegisterCheck("provider:"+name, providerCheck(provider))
	}
}

// providerCheck maps a provider health snapshot onto a check result. An
// open circuit is unhealthy; a closed circuit with an invalid key set is
// degraded, since cached stale keys may still validate.
func providerCheck(provider auth.Provider) CheckFunc {
	return func() Check {
		h := provider.HealthCheck()
		switch {
		case h.Ready:
			return Check{Status: StatusHealthy}
		case h.CircuitState == "open":
			return Check{Status: StatusUnhealthy, Message: "circuit open"}
		default:
			return Check{Status: StatusDegraded, Message: "key set not valid"}
		}
	}
}

// Health returns the liveness status.
func (c *Checker) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Readiness runs all registered checks and aggregates their status.
func (c *Checker) Readiness() ReadinessResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check),
		Timestamp: time.Now(),
	}

	for name, checkFunc := range c.checks {
		check := checkFunc()
		response.Checks[name] = check

		if check.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if check.Status == StatusDegraded && response.Status != StatusUnhealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// Providers returns the per-provider health snapshots.
func (c *Checker) Providers() map[string]auth.Health {
	c.mu.RLock()
	registry := c.registry
	c.mu.RUnlock()

	if registry == nil {
		return map[string]auth.Health{}
	}
	return registry.CheckHealth()
}

// HealthHandler returns an HTTP handler for the health endpoint.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.Health())
	}
}

// ReadinessHandler returns an HTTP handler for the readiness endpoint.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Readiness()

		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, response)
	}
}

// ProvidersHandler returns an HTTP handler serving the per-provider
// health snapshot map.
func (c *Checker) ProvidersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.Providers())
	}
}

// LivenessHandler returns an HTTP handler for the liveness endpoint.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
