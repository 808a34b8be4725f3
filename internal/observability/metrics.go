package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	planAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_plan_attempts_total",
			Help: "Plan acquisition attempts by result (accepted, rejected, malformed, oracle_error, validator_error)",
		},
		[]string{"result"},
	)

	acquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_plan_acquisitions_total",
			Help: "Plan acquisition loops by terminal state",
		},
		[]string{"state"},
	)

	steps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_steps_total",
			Help: "Executed plan steps by status (ok, empty, unresolved, failed)",
		},
		[]string{"status"},
	)

	stepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_step_duration_seconds",
			Help:    "Wall time of plan step execution",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordAttempt counts one generate/validate attempt.
func RecordAttempt(result string) {
	planAttempts.WithLabelValues(result).Inc()
}

// RecordAcquisition counts one finished acquisition loop, also in the dashboard totals.
func RecordAcquisition(state string) {
	acquisitions.WithLabelValues(state).Inc()
	countOutcome(state)
}

// RecordStep counts one step and its duration.
func RecordStep(status string, elapsed time.Duration) {
	steps.WithLabelValues(status).Inc()
	stepDuration.Observe(elapsed.Seconds())
}

// MetricsHandler exposes the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
