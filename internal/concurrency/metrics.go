package concurrency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConcurrencyInFlight shows the current number of in-flight calls.
	ConcurrencyInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "concurrency_in_flight",
			Help: "Current number of in-flight calls per target",
		},
		[]string{"target"},
	)

	// ConcurrencyRejectedTotal counts calls rejected as overloaded.
	ConcurrencyRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concurrency_rejected_total",
			Help: "Total number of calls rejected by the concurrency limiter",
		},
		[]string{"target"},
	)
)

func recordInFlight(target string, current int64) {
	ConcurrencyInFlight.WithLabelValues(target).Set(float64(current))
}

func recordRejected(target string) {
	ConcurrencyRejectedTotal.WithLabelValues(target).Inc()
}
