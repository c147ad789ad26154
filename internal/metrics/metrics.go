package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SpeedLimitLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "events",
			Subsystem: "speedlimit",
			Name:      "lookups_total",
			Help:      "Speed-limit resolutions by source (memory, shared, provider, fallback).",
		},
		[]string{"source"},
	)
	SpeedLimitLookupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "events",
			Subsystem: "speedlimit",
			Name:      "provider_duration_seconds",
			Help:      "Latency of external speed-limit lookups.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "events",
			Subsystem: "pipeline",
			Name:      "emitted_total",
			Help:      "Detected events by type.",
		},
		[]string{"type"},
	)
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "events",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Overspeed runs by outcome (published, superseded, failed).",
		},
		[]string{"outcome"},
	)
	PublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "events",
			Subsystem: "publisher",
			Name:      "failures_total",
			Help:      "Events that could not be fanned out to Redis.",
		},
	)
	ArchiveDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "events",
			Subsystem: "archive",
			Name:      "drops_total",
			Help:      "Events dropped because the archive buffer was full.",
		},
	)
	ArchiveWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "events",
			Subsystem: "archive",
			Name:      "writes_total",
			Help:      "Archived events by outcome (success, failure).",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		SpeedLimitLookups,
		SpeedLimitLookupDuration,
		EventsEmitted,
		Runs,
		PublishFailures,
		ArchiveDrops,
		ArchiveWrites,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
