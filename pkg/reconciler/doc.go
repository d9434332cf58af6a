/*
Package reconciler backstops job supervision with a periodic sweep. The
dispatch loop and startup recovery handle the common paths; the
reconciler covers what they cannot see: a supervision goroutine lost
inside a live worker, or a running job and lease left behind by a
different process that crashed while this one stayed up.

# Architecture

A ticker (default 30s) drives one sweep per cycle:

	┌────────────────────────────────────────────────────────────┐
	│               Reconciler Sweep (every 30s)                 │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	   for each job with status=running:
	     supervised by this process?  ──▶ skip (runner owns it)
	     container alive?             ──▶ skip (another worker owns it)
	     otherwise                    ──▶ failed, lease released,
	                                      queue entry cleared

The settle transition is the same one startup recovery applies, so a job
abandoned at any point converges to the same terminal record no matter
which mechanism finds it first. An engine error while checking liveness
defers the job to the next sweep rather than guessing.

Sweeps are observed through the reconcile cycle counter and duration
histogram; queue depth, lease, and per-status gauges come from the
metrics collector, not from this sweep.

# Usage

	rec := reconciler.New(store, engine, sched, broker, 30*time.Second)
	rec.Start()
	defer rec.Stop()

The Supervisor is typically the scheduler, whose Supervising method
covers both dispatched and re-attached jobs.

# Integration Points

  - pkg/store: running-job scan and the settle writes
  - pkg/engine: container liveness
  - pkg/scheduler: supervision ownership check
  - pkg/runner: shared FailAbandoned transition

# See Also

  - pkg/scheduler for the startup recovery pass this sweep backstops
*/
package reconciler
