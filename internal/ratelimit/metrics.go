package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitDecisionsTotal counts admission decisions per target.
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Total number of rate limit admission decisions",
		},
		[]string{"target", "result"},
	)

	// RateLimitRemaining shows the remaining budget in the current window.
	RateLimitRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rate_limit_remaining",
			Help: "Remaining requests in the current rate limit window",
		},
		[]string{"target"},
	)
)

func recordDecision(target string, res *Result) {
	result := "allowed"
	if !res.Allowed {
		result = "rejected"
	}
	RateLimitDecisionsTotal.WithLabelValues(target, result).Inc()
	RateLimitRemaining.WithLabelValues(target).Set(float64(res.Remaining))
}
