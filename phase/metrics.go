package phase

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adw",
		Subsystem: "phase",
		Name:      "runs_total",
		Help:      "Phase executions by phase and outcome.",
	}, []string{"phase", "outcome"})

	durationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adw",
		Subsystem: "phase",
		Name:      "duration_seconds",
		Help:      "Phase wall-clock duration.",
		Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
	}, []string{"phase"})
)

// Metrics exposes the phase collectors for registration by the
// composition root.
func Metrics() []prometheus.Collector {
	return []prometheus.Collector{runsTotal, durationSeconds}
}
