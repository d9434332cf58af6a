/*
Package health provides dependency health checking for worker processes.

A worker depends on exactly two external systems: the job store and the
container engine. This package probes both on an interval, tracks
consecutive results so single blips do not flap the verdict, and feeds
the outcome into the metrics component registry that backs the /health
and /ready endpoints.

# Architecture

	┌─────────────────────── MONITOR ───────────────────────┐
	│                                                        │
	│   ticker ──▶ StoreChecker.Check ──▶ Status.Update ──┐  │
	│          └─▶ EngineChecker.Check ─▶ Status.Update ──┤  │
	│                                                      │  │
	└──────────────────────────────────────────────────────┼──┘
	                                                       ▼
	                     metrics.UpdateComponent + store/engine up gauges

# Check Semantics

Each dependency carries a Status with failure and success streaks:

  - A dependency flips unhealthy only after Config.Retries consecutive
    failures
  - A single success flips it back healthy immediately
  - During Config.StartPeriod failures are not counted, so a worker
    booting alongside its dependencies does not report unhealthy while
    they come up

A worker with an unhealthy engine keeps running: dispatch continues and
jobs fail fast with the dial error. The verdict here affects readiness
reporting, never process lifetime.

# Usage

	monitor := health.NewMonitor(health.DefaultConfig(),
		health.NewStoreChecker(st),
		health.NewEngineChecker(eng),
	)
	monitor.Start()
	defer monitor.Stop()

	if monitor.Healthy(health.CheckTypeStore) {
		// ...
	}

# See Also

  - pkg/metrics for the component registry and the HTTP endpoints
  - pkg/engine for why an unreachable engine is not fatal
*/
package health
