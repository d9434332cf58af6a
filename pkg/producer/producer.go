package producer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stokehold/stoker/pkg/config"
	"github.com/stokehold/stoker/pkg/events"
	"github.com/stokehold/stoker/pkg/log"
	"github.com/stokehold/stoker/pkg/metrics"
	"github.com/stokehold/stoker/pkg/store"
	"github.com/stokehold/stoker/pkg/types"
	"github.com/stokehold/stoker/pkg/workspace"
)

// followInterval is the poll period for FollowLogs.
const followInterval = 500 * time.Millisecond

var errAlreadyTerminal = errors.New("job already terminal")

// Engine is the slice of the container driver cancellation needs.
type Engine interface {
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Remove(ctx context.Context, containerID string) error
}

// SubmitRequest describes a job submission. Name is optional and
// defaults to the archive filename without its .zip suffix.
type SubmitRequest struct {
	Name        string `validate:"omitempty,max=128"`
	Resource    string `validate:"required,resource"`
	Image       string `validate:"required"`
	ArchivePath string `validate:"required"`
}

// Producer is the submission-side interface to the queue: submit,
// cancel, inspect, and fetch logs and outputs. Producers and workers
// share nothing but the store, so a Producer works from any process
// that can reach it.
type Producer struct {
	store       store.Store
	engine      Engine
	ws          *workspace.Workspace
	events      *events.Broker
	validate    *config.Validator
	cancelGrace time.Duration
	logger      zerolog.Logger
}

// New creates a Producer. A non-positive cancelGrace falls back to 5s.
func New(st store.Store, eng Engine, ws *workspace.Workspace, broker *events.Broker, cancelGrace time.Duration) *Producer {
	if cancelGrace <= 0 {
		cancelGrace = 5 * time.Second
	}
	return &Producer{
		store:       st,
		engine:      eng,
		ws:          ws,
		events:      broker,
		validate:    config.NewValidator(),
		cancelGrace: cancelGrace,
		logger:      log.WithComponent("producer"),
	}
}

// Submit validates the request, copies the archive into the uploads
// area, writes the pending record, and appends it to the queue.
func (p *Producer) Submit(ctx context.Context, req SubmitRequest) (*types.Job, error) {
	if req.Name == "" {
		req.Name = strings.TrimSuffix(filepath.Base(req.ArchivePath), ".zip")
	}
	if err := p.validate.Validate(&req); err != nil {
		return nil, err
	}

	// Reject unreadable uploads here, not at dispatch time.
	zr, err := zip.OpenReader(req.ArchivePath)
	if err != nil {
		return nil, fmt.Errorf("archive %s is not a readable zip: %w", req.ArchivePath, err)
	}
	zr.Close()

	id := uuid.New().String()
	if err := p.copyArchive(req.ArchivePath, p.ws.UploadPath(id)); err != nil {
		return nil, err
	}

	job := &types.Job{
		ID:        id,
		Name:      req.Name,
		Resource:  req.Resource,
		Image:     req.Image,
		Status:    types.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to write job record: %w", err)
	}
	if err := p.store.EnqueuePending(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.JobsSubmitted.Inc()
	p.events.PublishJob(events.EventJobSubmitted, id, req.Name)
	p.logger.Info().
		Str("job_id", id).
		Str("name", req.Name).
		Str("resource", req.Resource).
		Str("image", req.Image).
		Msg("Job submitted")
	return job, nil
}

// Cancel moves the job to cancelled and cleans up its queue entry and
// container. Safe in every state and idempotent: a job that already
// reached a terminal status is left as-is and nil is returned. The
// resource lease is not touched; whoever is supervising the job owns
// releasing it.
func (p *Producer) Cancel(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := p.store.UpdateJob(ctx, id, func(j *types.Job) error {
		if j.Status.Terminal() {
			return errAlreadyTerminal
		}
		j.Status = types.JobStatusCancelled
		j.CompletedAt = &now
		return nil
	})
	already := errors.Is(err, errAlreadyTerminal)
	if err != nil && !already {
		return err
	}

	// Queue and container cleanup run on repeat cancels too: an earlier
	// call may have died between mutations.
	if err := p.store.RemovePending(ctx, id); err != nil {
		return fmt.Errorf("failed to remove job %s from queue: %w", id, err)
	}

	containerID, err := p.store.GetContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read container mapping for job %s: %w", id, err)
	}
	if containerID != "" {
		p.stopContainer(ctx, id, containerID)
	}

	if already {
		return nil
	}
	p.events.PublishJob(events.EventJobCancelled, id, "")
	p.logger.Info().Str("job_id", id).Msg("Job cancelled")
	return nil
}

// Get returns the job record.
func (p *Producer) Get(ctx context.Context, id string) (*types.Job, error) {
	return p.store.GetJob(ctx, id)
}

// List returns all jobs, newest first.
func (p *Producer) List(ctx context.Context) ([]*types.Job, error) {
	jobs, err := p.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Logs returns the last n lines of the job log, or all of it when n <= 0.
func (p *Producer) Logs(id string, n int) ([]byte, error) {
	data, err := workspace.Tail(p.ws.LogPath(id), n)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no log output for job %s yet", id)
	}
	return data, err
}

// FollowLogs streams the job log to w, polling for appended output, and
// returns once the job is terminal and the log is drained. A missing
// log file counts as empty: following may begin before dispatch.
func (p *Producer) FollowLogs(ctx context.Context, id string, w io.Writer) error {
	done := func() bool {
		job, err := p.store.GetJob(ctx, id)
		if err != nil {
			return true
		}
		return job.Status.Terminal()
	}
	return workspace.Follow(ctx, p.ws.LogPath(id), w, followInterval, done)
}

// ArchiveOutputs writes a zip of the job's output directory to w.
func (p *Producer) ArchiveOutputs(id string, w io.Writer) error {
	dir := p.ws.OutputDir(id)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no outputs for job %s", id)
	} else if err != nil {
		return err
	}
	return workspace.ArchiveDir(dir, w)
}

func (p *Producer) stopContainer(ctx context.Context, jobID, containerID string) {
	logger := p.logger.With().Str("job_id", jobID).Str("container_id", containerID).Logger()

	// Engine failures are logged, not returned: the store already holds
	// the cancel, and the runner's teardown or the reconciler backstops
	// a container that outlives this call.
	if err := p.engine.Stop(ctx, containerID, p.cancelGrace); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop container")
	}
	if err := p.engine.Remove(ctx, containerID); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove container")
	}
	if err := p.store.DeleteContainer(ctx, jobID); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete container mapping")
	}
}

func (p *Producer) copyArchive(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create uploads directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy archive: %w", err)
	}
	return out.Close()
}
