package retry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttemptsTotal counts attempts per operation.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of call attempts, including first attempts",
		},
		[]string{"operation", "attempt"},
	)

	// RetrySuccessTotal counts operations that succeeded after retrying.
	RetrySuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_success_total",
			Help: "Total number of operations that succeeded after at least one retry",
		},
		[]string{"operation"},
	)

	// RetryExhaustedTotal counts operations that spent their attempt budget.
	RetryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_exhausted_total",
			Help: "Total number of operations that failed after all retry attempts",
		},
		[]string{"operation"},
	)

	// RetryBackoffDuration measures backoff wait times.
	RetryBackoffDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retry_backoff_duration_seconds",
			Help:    "Duration of backoff waits in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
)

func recordAttempt(operation string, attempt int) {
	RetryAttemptsTotal.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}

func recordSuccessAfterRetry(operation string) {
	RetrySuccessTotal.WithLabelValues(operation).Inc()
}

func recordExhausted(operation string) {
	RetryExhaustedTotal.WithLabelValues(operation).Inc()
}

func recordBackoff(operation string, delay time.Duration) {
	RetryBackoffDuration.WithLabelValues(operation).Observe(delay.Seconds())
}
