package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stoker_queue_depth",
			Help: "Number of job ids waiting in the pending queue",
		},
	)

	LeasesHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stoker_leases_held",
			Help: "Number of resource leases currently held",
		},
	)

	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stoker_jobs_total",
			Help: "Total number of job records by status",
		},
		[]string{"status"},
	)

	// Lifecycle metrics
	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stoker_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
	)

	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stoker_jobs_processed_total",
			Help: "Total number of jobs finished by final status",
		},
		[]string{"status"},
	)

	JobsRecovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stoker_jobs_recovered_total",
			Help: "Jobs found running at worker startup, by outcome",
		},
		[]string{"outcome"},
	)

	// Runner metrics
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "stoker_job_duration_seconds",
			Help: "Wall-clock time from container launch to exit",
			// Training runs span seconds to many hours.
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stoker_dispatch_latency_seconds",
			Help:    "Time from submission to container launch",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// Reconciler metrics
	ReconcileCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stoker_reconcile_cycles_total",
			Help: "Total number of reconciliation sweeps",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stoker_reconcile_duration_seconds",
			Help:    "Reconciliation sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dependency gauges
	StoreUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stoker_store_up",
			Help: "Whether the job store answers pings (1 = up)",
		},
	)

	EngineUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stoker_engine_up",
			Help: "Whether the container engine answers pings (1 = up)",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(LeasesHeld)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsProcessed)
	prometheus.MustRegister(JobsRecovered)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(ReconcileCycles)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(StoreUp)
	prometheus.MustRegister(EngineUp)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
