/*
Package log provides structured logging for Stoker using zerolog.

All components log through the single global logger configured here. The
package wraps zerolog with a process-wide Init, component-scoped child
loggers, and a handful of shorthand helpers, so call sites stay terse and
log output stays uniform across the worker, the scheduler, and the CLI.

# Architecture

One logger per process:

	Init(Config) ──▶ package-level Logger (zerolog.Logger)
	                      │
	       ┌──────────────┼──────────────────┐
	       ▼              ▼                  ▼
	WithComponent()   WithJobID()     WithContainerID()
	 child logger     child logger      child logger

Child loggers are cheap value copies carrying pre-bound fields; components
create them once at construction and reuse them for every event. Nothing
here buffers: zerolog writes each event directly to the configured output.

Two output modes:

  - Console (default): human-readable, colorized, RFC3339 timestamps.
    Meant for `stoker serve` in a terminal and for local development.
  - JSON: one object per line, for production log collection.

# Core Components

Config:

	Level      - debug, info, warn, error (default info)
	JSONOutput - structured JSON instead of the console writer
	Output     - destination writer (default os.Stdout)

Child logger helpers:

	WithComponent(name)  - tags every event with component=name
	WithJobID(id)        - tags events with job_id
	WithContainerID(id)  - tags events with container_id
	WithResource(r)      - tags events with resource ("gpu:0", "cpu")

Shorthand helpers:

	Info, Debug, Warn, Error, Errorf, Fatal - one-line events on the
	global logger for call sites that have no bound fields.

# Log Levels

  - debug: queue polls, store round trips, per-chunk streaming detail
  - info: lifecycle milestones (job dispatched, container started,
    job completed, lease released, worker started/stopped)
  - warn: recoverable trouble (engine unreachable at startup, busy
    resource requeues, tolerated cleanup failures)
  - error: failed jobs, store errors, recovery transitions

Fatal logs and exits; only main uses it, and only before the worker loop
has started.

# Usage

Initialize once, before any component starts:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: false,
	})

Component construction:

	type Scheduler struct {
		logger zerolog.Logger
	}

	func New(...) *Scheduler {
		return &Scheduler{
			logger: log.WithComponent("scheduler"),
		}
	}

Event with bound job fields:

	logger := log.WithJobID(job.ID)
	logger.Info().
		Str("resource", job.Resource).
		Str("image", job.Image).
		Msg("Dispatching job")

Error with wrapped cause:

	if err := s.store.PutJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).
			Msg("Failed to persist job record")
	}

# Log Output Examples

Console mode:

	2025-06-01T12:04:05Z INF Dispatching job component=scheduler job_id=4f1c... resource=gpu:0
	2025-06-01T12:04:07Z INF Container started component=runner job_id=4f1c... container_id=9be1...

JSON mode:

	{"level":"info","component":"scheduler","job_id":"4f1c...","resource":"gpu:0","time":"2025-06-01T12:04:05Z","message":"Dispatching job"}

# Design Patterns

Global logger:

	A single package-level Logger avoids threading a logger through
	every constructor. Components still bind their own component field
	so events remain attributable.

Structured fields over formatting:

	Values go in typed fields (Str, Int, Dur, Err), not in the message
	string. Messages are short, capitalized, and stable so they can be
	grepped and counted.

Job log vs process log:

	This package is the process log. Per-job training output goes to the
	job's output.log via pkg/workspace and never through zerolog.

# Integration Points

  - cmd/stoker: calls Init from root command setup using pkg/config values
  - pkg/scheduler, pkg/runner, pkg/reconciler, pkg/engine, pkg/store,
    pkg/producer, pkg/events: component child loggers
  - pkg/metrics: logs endpoint lifecycle through WithComponent("metrics")

# Thread Safety

zerolog loggers are immutable values; binding fields returns a new logger.
Concurrent use of the global logger and any child logger is safe. Init is
not: call it once from main before starting components.

# See Also

  - pkg/config for how LOG_LEVEL and LOG_JSON map to Config
  - pkg/workspace for per-job output.log handling
  - https://github.com/rs/zerolog
*/
package log
