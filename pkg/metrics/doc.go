/*
Package metrics provides Prometheus metrics collection and exposition.

The package defines and registers every Stoker metric with the Prometheus
client library, serves them over a dedicated listener, and carries the
component health registry behind the /health and /ready endpoints. All
metrics are package-level collectors so any component can record without
carrying a handle.

# Architecture

	runner ─────────┐ (processed, durations)
	producer ───────┤ (submitted)
	scheduler ──────┼──▶ package collectors ──▶ /metrics
	reconciler ─────┤ (cycles, sweep time)
	Collector ──────┘ (queue/lease/status gauges, polled from store)

	health.Monitor ──▶ component registry ──▶ /health, /ready, /live

# Metrics

Queue state (set by Collector from the store):

  - stoker_queue_depth: ids waiting in the pending queue
  - stoker_leases_held: resource leases currently held
  - stoker_jobs_total{status}: job records by status

Lifecycle counters:

  - stoker_jobs_submitted_total
  - stoker_jobs_processed_total{status}: jobs finished by final status
  - stoker_jobs_recovered_total{outcome}: startup recovery, resumed or failed

Durations:

  - stoker_job_duration_seconds: container launch to exit
  - stoker_dispatch_latency_seconds: submission to launch
  - stoker_reconcile_duration_seconds, stoker_reconcile_cycles_total

Dependencies:

  - stoker_store_up, stoker_engine_up

# Usage

Recording:

	metrics.JobsProcessed.WithLabelValues("completed").Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration)

Serving:

	srv := metrics.NewServer(cfg.MetricsAddr)
	srv.Start()
	defer srv.Stop()

	collector := metrics.NewCollector(st)
	collector.Start()
	defer collector.Stop()

# Health Endpoints

  - /health: every registered component healthy → 200, else 503
  - /ready: the critical components (store, engine) healthy → 200
  - /live: 200 whenever the process runs

pkg/health owns the periodic checking and pushes results into the
registry here via UpdateComponent.

# See Also

  - pkg/health for the checkers that feed the component registry
  - cmd/stoker serve for the wiring
*/
package metrics
