/*
Package producer is the submission side of the queue: submit a training
job, cancel it, inspect records, and fetch logs and outputs. A producer
shares nothing with the workers but the store and the data directory,
so any process that can reach both can drive jobs.

# Submission

Submit validates the request (resource syntax, image, a readable zip
archive), copies the archive into the uploads area under the job's
fresh UUID, writes the pending record, and appends the id to the queue.
The record is written before the queue entry so a popped id always
resolves.

# Cancellation

Cancel is safe in every job state and idempotent:

  - pending: the record flips to cancelled; the queue entry is removed
    so the dispatch loop drops it if popped concurrently
  - running: the record flips first, then the container is stopped with
    a grace period, removed, and its mapping deleted
  - terminal: nothing changes and nil is returned

The status write is a read-modify-write, so a cancel racing the worker
always lands exactly once: either the worker sees cancelled at its next
write point, or the cancel arrived after the terminal write and is a
no-op. Cancel never releases the resource lease; the supervising
runner, or recovery after a crash, owns that cleanup.

# Reading results

Logs tails the job log file; FollowLogs polls it and streams appended
output until the job is terminal, which works before dispatch, during
the run, and across worker restarts because the file, not the worker,
is the source. ArchiveOutputs zips the job's output directory for
download.

# Integration Points

  - pkg/store: records, queue, container mapping
  - pkg/engine: container stop/remove on cancel
  - pkg/workspace: upload placement, log tail/follow, output archives
  - pkg/config: submission validation rules
  - pkg/events: submitted/cancelled notifications
*/
package producer
