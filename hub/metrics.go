package hub

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "adw",
		Subsystem: "hub",
		Name:      "sessions",
		Help:      "Connected WebSocket sessions.",
	})

	broadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adw",
		Subsystem: "hub",
		Name:      "broadcasts_total",
		Help:      "Messages published to the hub by type.",
	}, []string{"type"})

	dedupSuppressedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "adw",
		Subsystem: "hub",
		Name:      "dedup_suppressed_total",
		Help:      "Broadcasts suppressed by per-session deduplication.",
	})

	droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "adw",
		Subsystem: "hub",
		Name:      "dropped_total",
		Help:      "Broadcasts dropped due to full per-session queues.",
	})

	triggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adw",
		Subsystem: "hub",
		Name:      "triggers_total",
		Help:      "Workflow trigger requests by outcome.",
	}, []string{"outcome"})
)

// Metrics returns the hub collectors for registration by the
// composition root.
func Metrics() []prometheus.Collector {
	return []prometheus.Collector{
		sessionsGauge, broadcastsTotal, dedupSuppressedTotal, droppedTotal, triggersTotal,
	}
}
