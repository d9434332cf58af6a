/*
Package types defines the core data structures used throughout Stoker.

This package contains the fundamental types of the training-job queue:
job records, lifecycle statuses, and compute resources. Every other
package builds on these types for queue management, scheduling, container
execution, and producer operations.

# Architecture

The types package is the foundation of Stoker's data model. It defines:

  - Job records and their JSON wire format
  - The job lifecycle state machine (statuses)
  - Compute resources (GPU slots and the CPU fallback slot)
  - Naming helpers shared by producer and worker (container names)

All types are designed to be:
  - Serializable (JSON; the `job:<id>` store key holds exactly this shape)
  - Tolerant (readers ignore unknown fields, absent fields stay zero)
  - Self-documenting (clear field names and comments)

# Core Types

Job:

	The durable record of one submission: identity, requested resource,
	runtime image, lifecycle timestamps, current status, last error, and
	the container id while running. Records are whole-record replaced in
	the store; there is no field-level update protocol, so writers use a
	read-modify-write helper (see pkg/store).

JobStatus:

	pending, running, completed, failed, cancelled. The last three are
	terminal: once written they never revert, and any writer that
	observes cancelled must leave it in place.

Resource:

	Parsed form of the resource string. "cpu" is the fallback slot;
	"gpu:<n>" names a single accelerator by device index. Each resource
	is exclusive: the registry (pkg/store) admits at most one lease per
	resource at any instant.

# Job Lifecycle

Jobs follow a state machine:

	pending ──(dispatch)──▶ running ──(exit=0)──▶ completed
	   │                       │
	   │                       ├──(exit≠0)──▶ failed
	   │                       │
	   │                       └──(cancelled observed at reconcile)──▶ cancelled
	   │
	   └──(producer cancel)──▶ cancelled

Valid transitions:
  - pending → running (scheduler dispatches onto a held lease)
  - running → completed (container exited 0)
  - running → failed (non-zero exit, launch error, or worker restart)
  - pending|running → cancelled (producer cancel; sticky thereafter)

Terminal states absorb all further transitions.

# Usage

Creating a job record:

	now := time.Now()
	job := &types.Job{
		ID:        uuid.New().String(),
		Name:      "mnist-baseline",
		Resource:  "gpu:0",
		Image:     "pytorch/pytorch:latest",
		Status:    types.JobStatusPending,
		CreatedAt: now,
	}

Parsing a resource request:

	res, err := types.ParseResource(job.Resource)
	if err != nil {
		// user input error: unknown resource
	}
	if res.Kind == types.ResourceKindGPU {
		deviceID := res.DeviceIndex() // "0"
	}

Checking for terminal state:

	if job.Status.Terminal() {
		// record is immutable except container_id cleanup
	}

# Design Patterns

Enumeration pattern:

	Enums are typed string constants, so values read naturally in JSON
	and in log output:
	  type JobStatus string
	  const (
	      JobStatusPending JobStatus = "pending"
	      JobStatusRunning JobStatus = "running"
	  )

Nullable timestamps:

	started_at and completed_at are pointers: nil means the phase has
	not happened. created_at is always set by the producer.

Whole-record writes:

	The store replaces the full JSON value on every write. Mutators
	clone, modify, and re-put; Clone exists so callers never alias the
	pointers of a record they are about to change.

# Integration Points

This package is imported by:

  - pkg/store: persists Job as JSON, keys leases by Resource strings
  - pkg/producer: creates pending records, applies the cancel protocol
  - pkg/scheduler: inspects status before dispatch
  - pkg/runner: drives the running → terminal transitions
  - pkg/engine: maps Resource to container device attachments
  - pkg/events: carries job ids and statuses in lifecycle events

# Thread Safety

Types here are plain data. They are safe for concurrent reads; mutations
must be confined to one goroutine or serialized by the caller. Cross-process
consistency is the store's concern (per-key atomic operations plus the
sticky-cancelled write discipline).

# See Also

  - pkg/store for persistence and the read-modify-write helper
  - pkg/scheduler for dispatch rules built on these states
  - pkg/runner for the terminal-status reconciliation rules
*/
package types
