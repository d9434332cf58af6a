/*
Package store provides the shared state behind the training-job queue.

Producers (the API side, the CLI) and workers are separate processes that
coordinate exclusively through this store: job records, the pending queue,
resource leases, and the job-to-container mapping all live here. The
package defines the Store interface plus two backends: Redis for the
shared multi-process deployment and an embedded BoltDB file for
single-process use.

# Architecture

	            ┌─────────────┐        ┌─────────────┐
	            │  producer   │        │   worker    │
	            │ (submit,    │        │ (scheduler, │
	            │  cancel)    │        │  runner)    │
	            └──────┬──────┘        └──────┬──────┘
	                   │    Store interface   │
	                   └──────────┬───────────┘
	              ┌───────────────┴──────────────┐
	              ▼                              ▼
	       RedisStore                       BoltStore
	   (shared deployment)            (embedded, one process)

Every critical section in the system reduces to one atomic operation here:
queue pop, lease compare-and-set, record replacement. Nothing above this
package holds locks across processes.

# Key Layout

The Redis backend is a bit-level contract with any other process speaking
to the same deployment:

	job:<id>              JSON job record (see pkg/types.Job)
	queue:pending         list of pending job ids
	resource:<resource>   holding job id (the lease)
	container:<job_id>    engine container id while running

The Bolt backend mirrors the same layout as buckets (jobs, queue,
resources, containers); queue entries are keyed by a monotonic sequence so
head/tail order survives restarts.

# Queue Semantics

EnqueuePending appends at the tail; DequeuePending pops the head; ordering
is strict FIFO between them. RequeuePending also appends at the tail: a job
that found its resource busy rejoins the line behind everything already
queued, so other jobs keep making progress while it rotates. RemovePending
deletes every occurrence (cancellation path). Duplicate entries are legal;
dispatchers drop ids whose record is no longer pending.

# Job Record Discipline

Job values are whole-record JSON replacements; there is no field update
protocol. All mutations therefore go through UpdateJob, which re-reads the
record, applies the caller's mutate function, and writes the result:

  - RedisStore runs the read-modify-write under WATCH and retries on
    conflict, so a concurrent cancel is never silently overwritten.
  - BoltStore runs it inside a single write transaction.

If mutate returns an error nothing is written and the error comes back
unchanged; callers use sentinel errors to abort (the sticky-cancelled rule
in pkg/runner works exactly this way). PutJob is reserved for record
creation.

# Usage

Open by URL (scheme selects the backend):

	st, err := store.Open(ctx, cfg.StoreURL)
	if err != nil {
		return err
	}
	defer st.Close()

Submit path:

	if err := st.PutJob(ctx, job); err != nil { ... }
	if err := st.EnqueuePending(ctx, job.ID); err != nil { ... }

Dispatch path:

	id, ok, err := st.DequeuePending(ctx)
	...
	acquired, err := st.AcquireResource(ctx, job.Resource, job.ID)

Status transition with the sticky rule:

	_, err := st.UpdateJob(ctx, id, func(j *types.Job) error {
		if j.Status == types.JobStatusCancelled {
			return errCancelled // skip the write
		}
		j.Status = types.JobStatusCompleted
		return nil
	})

# Error Handling

GetJob and UpdateJob return ErrJobNotFound (wrapped with the id) for
unknown records; callers branch with errors.Is. List operations tolerate
undecodable records: a foreign or corrupt value under a scanned prefix is
skipped, never fatal. Connection failures surface from Open and from each
round trip; the scheduler treats them as retryable.

# Thread Safety

Both backends are safe for concurrent use: go-redis connections pool
internally, and BoltDB serializes write transactions. The Bolt file lock
confines BoltStore to one process; Open fails fast (1s timeout) when the
file is already held, rather than blocking.

# Integration Points

  - pkg/producer: PutJob/EnqueuePending on submit, UpdateJob +
    RemovePending + container mapping on cancel
  - pkg/scheduler: DequeuePending, lease acquire, idempotent-dispatch reads
  - pkg/runner: UpdateJob transitions, SetContainer, lease release
  - pkg/reconciler: ListJobs/ListLeases sweeps, recovery transitions
  - pkg/metrics: PendingDepth and lease gauges
  - cmd/stoker-migrate: copies all four keyspaces between backends

# See Also

  - pkg/types for the Job record shape
  - pkg/scheduler for how dispatch uses the queue and leases
  - https://github.com/redis/go-redis
  - https://github.com/etcd-io/bbolt
*/
package store
