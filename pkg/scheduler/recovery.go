package scheduler

import (
	"context"
	"fmt"

	"github.com/stokehold/stoker/pkg/events"
	"github.com/stokehold/stoker/pkg/metrics"
	"github.com/stokehold/stoker/pkg/runner"
	"github.com/stokehold/stoker/pkg/types"
)

// Recover settles every job a previous process left in running. A job
// whose container is still up gets its supervision re-attached in the
// background: output streaming resumes and the exit is reconciled as if
// this process had launched it. A job whose container is gone lost its
// work and is failed, its lease released and queue entry cleared.
//
// Runs once, before Start; each previously-running job is handled
// exactly once.
func (s *Scheduler) Recover(ctx context.Context) error {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs for recovery: %w", err)
	}

	checked := 0
	for _, job := range jobs {
		if job.Status != types.JobStatusRunning {
			continue
		}
		s.recoverJob(ctx, job)
		checked++
	}
	if checked > 0 {
		s.logger.Info().Int("count", checked).Msg("Recovery pass finished")
	}
	return nil
}

func (s *Scheduler) recoverJob(ctx context.Context, job *types.Job) {
	logger := s.logger.With().Str("job_id", job.ID).Logger()

	containerID := s.findContainer(ctx, job)
	alive := false
	if containerID != "" {
		ok, err := s.engine.Alive(ctx, containerID)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to inspect container, treating job as abandoned")
		}
		alive = ok
	}

	if !alive {
		logger.Warn().Msg("Container gone after restart, failing job")
		if err := runner.FailAbandoned(ctx, s.store, job, runner.AbandonedReason); err != nil {
			logger.Error().Err(err).Msg("Failed to settle abandoned job")
			return
		}
		metrics.JobsRecovered.WithLabelValues("failed").Inc()
		s.events.PublishJob(events.EventJobFailed, job.ID, runner.AbandonedReason)
		return
	}

	logger.Info().Str("container_id", containerID).Msg("Re-attaching to running container")
	metrics.JobsRecovered.WithLabelValues("resumed").Inc()
	s.events.PublishJob(events.EventJobRecovered, job.ID, "re-attached after worker restart")

	s.active.add(job.ID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.remove(job.ID)
		s.runner.Resume(context.Background(), job, containerID)
	}()
}

// findContainer resolves the job's container: the store mapping first,
// then the id recorded on the job, then a lookup by the deterministic
// container name for mappings lost with the previous process.
func (s *Scheduler) findContainer(ctx context.Context, job *types.Job) string {
	id, err := s.store.GetContainer(ctx, job.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to read container mapping")
	}
	if id != "" {
		return id
	}
	if job.ContainerID != "" {
		return job.ContainerID
	}

	id, err = s.engine.FindByName(ctx, types.ContainerName(job.ID))
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Container lookup by name failed")
		return ""
	}
	return id
}
