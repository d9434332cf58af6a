package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/stokehold/stoker/pkg/engine"
	"github.com/stokehold/stoker/pkg/events"
	"github.com/stokehold/stoker/pkg/log"
	"github.com/stokehold/stoker/pkg/metrics"
	"github.com/stokehold/stoker/pkg/store"
	"github.com/stokehold/stoker/pkg/types"
	"github.com/stokehold/stoker/pkg/workspace"
)

// Sentinels returned by record mutators to abort a write without error.
var (
	errCancelled = errors.New("job already cancelled")
	errTerminal  = errors.New("job already terminal")
)

// cleanupTimeout bounds the detached teardown work after a job, so
// shutdown or a cancelled dispatch context never strands a container.
const cleanupTimeout = 30 * time.Second

// AbandonedReason marks jobs whose container did not survive its
// supervisor. Producers surface it verbatim, so the wording is part of
// the contract.
const AbandonedReason = "worker restarted mid-run"

// Engine is the slice of the container driver the runner needs.
type Engine interface {
	Run(ctx context.Context, spec engine.RunSpec) (string, error)
	StreamLogs(ctx context.Context, containerID string, w io.Writer) error
	ResumeLogs(ctx context.Context, containerID string, w io.Writer) error
	Wait(ctx context.Context, containerID string) (int64, error)
	Remove(ctx context.Context, containerID string) error
}

// Runner executes one job through its five phases: prepare, launch,
// stream, reconcile, cleanup. Every failure maps to a terminal status on
// the record rather than an error return, and a cancel observed at any
// write point sticks.
type Runner struct {
	store  store.Store
	engine Engine
	ws     *workspace.Workspace
	events *events.Broker
	logger zerolog.Logger
}

// New creates a Runner.
func New(st store.Store, eng Engine, ws *workspace.Workspace, broker *events.Broker) *Runner {
	return &Runner{
		store:  st,
		engine: eng,
		ws:     ws,
		events: broker,
		logger: log.WithComponent("runner"),
	}
}

// Execute runs job to a terminal status. The caller must hold the job's
// resource lease; it is released on every path out, panics included.
func (r *Runner) Execute(ctx context.Context, job *types.Job) {
	logger := r.logger.With().Str("job_id", job.ID).Logger()
	defer r.releaseLease(job, logger)
	defer r.trapPanic(job, logger)

	// Prepare: extract the archive, create the output dir, start the log.
	jobDir, outDir, err := r.ws.PrepareJob(job.ID)
	if err != nil {
		msg := fmt.Sprintf("Failed to prepare workspace: %v", err)
		r.appendError(job.ID, msg, nil)
		r.failJob(ctx, job.ID, msg, logger)
		return
	}

	res, err := types.ParseResource(job.Resource)
	if err != nil {
		r.appendError(job.ID, err.Error(), nil)
		r.failJob(ctx, job.ID, err.Error(), logger)
		return
	}

	startedAt := time.Now().UTC()
	logPath := r.ws.LogPath(job.ID)
	if err := workspace.WriteLogHeader(logPath, startedAt, job.Resource, job.Image); err != nil {
		r.failJob(ctx, job.ID, fmt.Sprintf("Failed to initialize job log: %v", err), logger)
		return
	}

	updated, err := r.store.UpdateJob(ctx, job.ID, func(j *types.Job) error {
		if j.Status == types.JobStatusCancelled {
			return errCancelled
		}
		j.Status = types.JobStatusRunning
		j.StartedAt = &startedAt
		return nil
	})
	if errors.Is(err, errCancelled) {
		logger.Info().Msg("Job cancelled before launch")
		metrics.JobsProcessed.WithLabelValues(string(types.JobStatusCancelled)).Inc()
		return
	}
	if err != nil {
		r.failJob(ctx, job.ID, fmt.Sprintf("Failed to mark job running: %v", err), logger)
		return
	}
	job = updated
	metrics.DispatchLatency.Observe(startedAt.Sub(job.CreatedAt).Seconds())

	// Launch.
	containerID, err := r.engine.Run(ctx, engine.RunSpec{
		JobID:        job.ID,
		Image:        job.Image,
		Resource:     res,
		WorkspaceDir: r.ws.HostPath(jobDir),
		OutputDir:    r.ws.HostPath(outDir),
	})
	if err != nil {
		msg := fmt.Sprintf("Failed to launch container: %v", err)
		r.appendError(job.ID, msg, nil)
		r.failJob(ctx, job.ID, msg, logger)
		return
	}

	if err := r.store.SetContainer(ctx, job.ID, containerID); err != nil {
		logger.Error().Err(err).Msg("Failed to persist container mapping")
	}

	_, err = r.store.UpdateJob(ctx, job.ID, func(j *types.Job) error {
		if j.Status == types.JobStatusCancelled {
			return errCancelled
		}
		j.ContainerID = containerID
		return nil
	})
	if errors.Is(err, errCancelled) {
		// The cancel hit during launch, before the producer could see a
		// container to stop. Tearing this one down is on us.
		logger.Info().Str("container_id", short(containerID)).Msg("Job cancelled during launch, removing container")
		r.teardown(job.ID, containerID, logger)
		metrics.JobsProcessed.WithLabelValues(string(types.JobStatusCancelled)).Inc()
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record container id")
	}

	r.events.PublishJob(events.EventJobStarted, job.ID, "container "+short(containerID))
	logger.Info().
		Str("container_id", short(containerID)).
		Str("resource", job.Resource).
		Str("image", job.Image).
		Msg("Job running")

	// Stream container output into the job log until exit.
	r.streamOutput(ctx, containerID, logPath, logger)

	// Reconcile and clean up.
	exitCode, waitErr := r.engine.Wait(ctx, containerID)
	r.finish(ctx, job, containerID, logPath, exitCode, waitErr, startedAt, logger)
}

// Resume re-attaches to a container that outlived a worker restart:
// follow output from now, wait for exit, then reconcile and clean up
// exactly like a locally-launched job.
func (r *Runner) Resume(ctx context.Context, job *types.Job, containerID string) {
	logger := r.logger.With().Str("job_id", job.ID).Str("container_id", short(containerID)).Logger()
	defer r.releaseLease(job, logger)
	defer r.trapPanic(job, logger)

	logger.Info().Msg("Resuming supervision of running container")

	logPath := r.ws.LogPath(job.ID)
	f, err := workspace.OpenLogAppend(logPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open job log for resume")
	} else {
		if err := r.engine.ResumeLogs(ctx, containerID, f); err != nil {
			logger.Debug().Err(err).Msg("Log stream ended with error")
		}
		f.Close()
	}

	startedAt := job.CreatedAt
	if job.StartedAt != nil {
		startedAt = *job.StartedAt
	}

	exitCode, waitErr := r.engine.Wait(ctx, containerID)
	r.finish(ctx, job, containerID, logPath, exitCode, waitErr, startedAt, logger)
}

func (r *Runner) streamOutput(ctx context.Context, containerID, logPath string, logger zerolog.Logger) {
	f, err := workspace.OpenLogAppend(logPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open job log for streaming")
		return
	}
	defer f.Close()

	if err := r.engine.StreamLogs(ctx, containerID, f); err != nil {
		// Expected when a cancel removes the container mid-stream.
		logger.Debug().Err(err).Msg("Log stream ended with error")
	}
}

// finish settles the record from the container's exit and tears the
// container down. A record that went cancelled while we streamed is left
// as-is: cancelled is sticky.
func (r *Runner) finish(ctx context.Context, job *types.Job, containerID, logPath string, exitCode int64, waitErr error, startedAt time.Time, logger zerolog.Logger) {
	completedAt := time.Now().UTC()

	final, err := r.store.UpdateJob(ctx, job.ID, func(j *types.Job) error {
		if j.Status == types.JobStatusCancelled {
			return errCancelled
		}
		switch {
		case waitErr != nil:
			j.Status = types.JobStatusFailed
			j.Error = fmt.Sprintf("Failed to supervise container: %v", waitErr)
		case exitCode == 0:
			j.Status = types.JobStatusCompleted
			j.Error = ""
		default:
			j.Status = types.JobStatusFailed
			j.Error = fmt.Sprintf("Container exited with code %d", exitCode)
		}
		j.CompletedAt = &completedAt
		return nil
	})

	r.teardown(job.ID, containerID, logger)

	switch {
	case errors.Is(err, errCancelled):
		logger.Info().Msg("Job cancelled")
		metrics.JobsProcessed.WithLabelValues(string(types.JobStatusCancelled)).Inc()
	case err != nil:
		logger.Error().Err(err).Msg("Failed to record final job status")
	case final.Status == types.JobStatusCompleted:
		metrics.JobsProcessed.WithLabelValues(string(final.Status)).Inc()
		metrics.JobDuration.Observe(completedAt.Sub(startedAt).Seconds())
		r.events.PublishJob(events.EventJobCompleted, job.ID, "exit code 0")
		logger.Info().Msg("Job completed")
	default:
		if waitErr != nil {
			_ = workspace.AppendErrorBlock(logPath, final.Error, nil)
		}
		metrics.JobsProcessed.WithLabelValues(string(final.Status)).Inc()
		metrics.JobDuration.Observe(completedAt.Sub(startedAt).Seconds())
		r.events.PublishJob(events.EventJobFailed, job.ID, final.Error)
		logger.Warn().Int64("exit_code", exitCode).Str("error", final.Error).Msg("Job failed")
	}
}

// failJob moves the job to failed unless it already reached a terminal
// status. Used for pre-exit failures: prepare errors, launch errors,
// panics.
func (r *Runner) failJob(ctx context.Context, jobID, msg string, logger zerolog.Logger) {
	now := time.Now().UTC()
	_, err := r.store.UpdateJob(ctx, jobID, func(j *types.Job) error {
		if j.Status.Terminal() {
			return errTerminal
		}
		j.Status = types.JobStatusFailed
		j.Error = msg
		j.CompletedAt = &now
		return nil
	})
	if errors.Is(err, errTerminal) {
		logger.Info().Str("reason", msg).Msg("Job already terminal, keeping its status")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("reason", msg).Msg("Failed to mark job failed")
		return
	}

	metrics.JobsProcessed.WithLabelValues(string(types.JobStatusFailed)).Inc()
	r.events.PublishJob(events.EventJobFailed, jobID, msg)
	logger.Warn().Str("error", msg).Msg("Job failed")
}

// teardown force-removes the container and drops the container mapping.
// Runs on a detached context so shutdown cannot strand a container, and
// tolerates the producer's cancel path having done the same already.
func (r *Runner) teardown(jobID, containerID string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := r.engine.Remove(ctx, containerID); err != nil {
		logger.Warn().Err(err).Str("container_id", short(containerID)).Msg("Failed to remove container")
	}
	if err := r.store.DeleteContainer(ctx, jobID); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete container mapping")
	}
}

func (r *Runner) releaseLease(job *types.Job, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := r.store.ReleaseResource(ctx, job.Resource); err != nil {
		logger.Error().Err(err).Str("resource", job.Resource).Msg("Failed to release resource lease")
	}
}

// trapPanic converts a runner panic into a failed job with the stack in
// the job log, so one bad job cannot take the worker loop down.
func (r *Runner) trapPanic(job *types.Job, logger zerolog.Logger) {
	rec := recover()
	if rec == nil {
		return
	}

	msg := fmt.Sprintf("Worker crashed while running job: %v", rec)
	logger.Error().Str("panic", fmt.Sprint(rec)).Msg("Runner panicked")
	r.appendError(job.ID, msg, debug.Stack())

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	r.failJob(ctx, job.ID, msg, logger)
}

// appendError writes an error block to the job log, creating the job
// directory first when the failure predates it.
func (r *Runner) appendError(jobID, msg string, stack []byte) {
	logPath := r.ws.LogPath(jobID)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return
	}
	_ = workspace.AppendErrorBlock(logPath, msg, stack)
}

// FailAbandoned settles a running job whose container is gone and whose
// supervisor is not coming back: fail the record (cancelled stays
// cancelled), release the lease, and clear any queue entry and container
// mapping. Shared by startup recovery and the periodic reconciler.
func FailAbandoned(ctx context.Context, st store.Store, job *types.Job, reason string) error {
	now := time.Now().UTC()
	_, err := st.UpdateJob(ctx, job.ID, func(j *types.Job) error {
		if j.Status.Terminal() {
			if j.CompletedAt == nil {
				j.CompletedAt = &now
				return nil
			}
			return errTerminal
		}
		j.Status = types.JobStatusFailed
		j.Error = reason
		j.CompletedAt = &now
		return nil
	})
	if err != nil && !errors.Is(err, errTerminal) {
		return fmt.Errorf("failed to mark job %s failed: %w", job.ID, err)
	}

	var firstErr error
	if err := st.ReleaseResource(ctx, job.Resource); err != nil {
		firstErr = fmt.Errorf("failed to release lease %s: %w", job.Resource, err)
	}
	if err := st.RemovePending(ctx, job.ID); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to dequeue job %s: %w", job.ID, err)
	}
	if err := st.DeleteContainer(ctx, job.ID); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to delete container mapping for job %s: %w", job.ID, err)
	}
	return firstErr
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
