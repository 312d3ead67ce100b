package auth

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for token validation and key-set
// refresh, registered on their own registry.
type Metrics struct {
	validatedTotal     *prometheus.CounterVec
	validationDuration prometheus.Histogram
	refreshTotal       *prometheus.CounterVec
	refreshDuration    prometheus.Histogram
	keySetValid        *prometheus.GaugeVec
	providerReady      *prometheus.GaugeVec
	registry           *prometheus.Registry
}

var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

// GetSharedMetrics returns the singleton Metrics instance.
func GetSharedMetrics() *Metrics {
	sharedMetricsOnce.Do(func() {
		sharedMetrics = NewMetrics("tokengate")
	})
	return sharedMetrics
}

// NewMetrics creates a Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tokengate"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.validatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_validated_total",
			Help:      "Total number of token validation attempts",
		},
		[]string{"provider", "status"},
	)

	m.validationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_validation_time_seconds",
			Help:      "Token validation duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	m.refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_refreshes_total",
			Help:      "Total number of key set refresh attempts",
		},
		[]string{"provider", "status"},
	)

	m.refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "jwks_refresh_time_seconds",
			Help:      "Key set refresh duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	m.keySetValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jwks_valid",
			Help:      "Whether the provider's cached key set is within its validity window",
		},
		[]string{"provider"},
	)

	m.providerReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_ready",
			Help:      "Whether the provider is ready to validate tokens",
		},
		[]string{"provider"},
	)

	m.registry.MustRegister(
		m.validatedTotal,
		m.validationDuration,
		m.refreshTotal,
		m.refreshDuration,
		m.keySetValid,
		m.providerReady,
	)

	return m
}

// RecordValidation records a token validation attempt.
func (m *Metrics) RecordValidation(provider, status string, duration time.Duration) {
	m.validatedTotal.WithLabelValues(provider, status).Inc()
	m.validationDuration.Observe(duration.Seconds())
}

// RecordRefresh records a key set refresh attempt.
func (m *Metrics) RecordRefresh(provider, status string, duration time.Duration) {
	m.refreshTotal.WithLabelValues(provider, status).Inc()
	m.refreshDuration.Observe(duration.Seconds())
}

// SetKeySetValid updates the key-set validity gauge.
func (m *Metrics) SetKeySetValid(provider string, valid bool) {
	m.keySetValid.WithLabelValues(provider).Set(boolGauge(valid))
}

// SetProviderReady updates the provider readiness gauge.
func (m *Metrics) SetProviderReady(provider string, ready bool) {
	m.providerReady.WithLabelValues(provider).Set(boolGauge(ready))
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
