/*
Package runner executes a single training job from dispatch to its
terminal status: it prepares the job's workspace, launches the training
container, streams its output into the job log, settles the record from
the exit code, and cleans up the container and the resource lease.

# Architecture

Execute drives a job through five phases in order:

	┌──────────────────────────────────────────────────────────┐
	│  1. Prepare    extract archive, create output dir,       │
	│                write log header, mark job running        │
	│  2. Launch     start the training container               │
	│  3. Stream     append container stdout/stderr to         │
	│                output.log until the container exits      │
	│  4. Reconcile  map exit code to completed/failed          │
	│  5. Cleanup    remove container, release lease            │
	└──────────────────────────────────────────────────────────┘

Every failure in any phase lands on the job record as a terminal status
with a human-readable Error, never as an error return: Execute has no
error to give back because the record is the source of truth.

# Cancellation

Cancelled is sticky. Every status write goes through a read-modify-write
mutator that checks the current status first and aborts when it finds
cancelled, so a cancel landing at any point between dispatch and the
final write wins and is never overwritten by completed or failed. A
cancel that slips in during launch, before the container mapping is
visible to the cancelling side, is detected right after launch and the
runner tears the fresh container down itself.

# Crash tolerance

Resume re-attaches to a container that outlived a worker restart: it
follows output from the point of re-attachment (earlier output is
already in the log), waits for exit, and settles exactly like a locally
launched job. FailAbandoned is the counterpart for containers that did
not survive: it fails the record, releases the lease, and clears queue
entry and container mapping; startup recovery and the periodic
reconciler both use it.

A panic anywhere in the runner is trapped, written to the job log as an
error block with the stack, and converted to a failed status, so one bad
job cannot take the dispatch loop down. The resource lease is released
on every path out, panics included.

# Usage

	r := runner.New(store, engine, workspace, broker)
	r.Execute(ctx, job)   // job now terminal, lease released

# Integration Points

  - pkg/scheduler: dispatches leased jobs to Execute and resumed jobs
    to Resume during startup recovery
  - pkg/reconciler: uses FailAbandoned for abandoned running jobs
  - pkg/store: job records, leases, container mappings
  - pkg/engine: container lifecycle and log streaming
  - pkg/workspace: archive extraction, job log files
  - pkg/events: job lifecycle notifications
  - pkg/metrics: processed/duration/dispatch-latency series

# See Also

  - pkg/scheduler for queue consumption and dispatch ordering
  - pkg/producer for the submit and cancel sides of the lifecycle
*/
package runner
