/*
Package scheduler consumes the pending job queue and dispatches runnable
jobs, one at a time, to the runner. It owns the claim step that makes
dispatch safe across worker processes: a job only runs once its
resource lease has been acquired atomically in the shared store.

# Architecture

The dispatch loop runs until stopped, handling the queue head per
iteration:

	┌────────────────────────────────────────────────────────────┐
	│                     Dispatch Loop                          │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. Pop queue head     empty → sleep poll_interval         │
	│  2. Load job           missing or not pending → drop       │
	│  3. Resource check     held → requeue tail, sleep          │
	│                        busy_delay                          │
	│  4. Acquire lease      lost the race → requeue tail        │
	│  5. Run inline         job reaches a terminal status,      │
	│                        lease released by the runner        │
	└────────────────────────────────────────────────────────────┘

One job runs at a time per worker process. Horizontal scale is more
worker processes against the same store: the lease CAS in step 4 is the
only cross-process coordination required, so N workers drain one queue
without double-running a job or double-booking a GPU.

Jobs cancelled while queued surface in step 2 as a non-pending status
and their entry is dropped without side effects. A store error in any
step logs, requeues the popped entry when one is in hand, and backs off
for poll_interval; a single bad iteration never stops the loop.

# Recovery

Recover runs once before the loop starts and settles whatever a
previous process left behind. For each job still marked running it
resolves the container (store mapping, then the job record, then the
deterministic ml-job-<id> name) and checks whether it is alive:

  - alive: supervision is re-attached in the background; log streaming
    resumes from the point of re-attachment and the exit is reconciled
    exactly like a locally-launched job
  - gone: the job is failed with "worker restarted mid-run", its lease
    released, and any stale queue entry removed

# Usage

	sched := scheduler.New(store, engine, runner, broker, scheduler.Config{
		PollInterval: 5 * time.Second,
		BusyDelay:    2 * time.Second,
	})
	if err := sched.Recover(ctx); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

DispatchNext is the loop body as a single call, for the one-shot local
runner: pop, claim, run to terminal, return.

# Integration Points

  - pkg/store: pending queue ops, job records, lease CAS
  - pkg/runner: inline execution and resumed supervision
  - pkg/engine: container liveness checks during recovery
  - pkg/events: recovery notifications
  - pkg/reconciler: queries Supervising to leave locally-owned jobs alone

# See Also

  - pkg/runner for the five phases a dispatched job goes through
  - pkg/reconciler for the periodic sweep that backstops recovery
*/
package scheduler
