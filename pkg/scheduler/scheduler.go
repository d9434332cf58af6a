package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stokehold/stoker/pkg/events"
	"github.com/stokehold/stoker/pkg/log"
	"github.com/stokehold/stoker/pkg/store"
	"github.com/stokehold/stoker/pkg/types"
)

// Dispatcher runs a leased job to its terminal status.
type Dispatcher interface {
	Execute(ctx context.Context, job *types.Job)
	Resume(ctx context.Context, job *types.Job, containerID string)
}

// Engine is the slice of the container driver recovery needs.
type Engine interface {
	Alive(ctx context.Context, containerID string) (bool, error)
	FindByName(ctx context.Context, name string) (string, error)
}

// Config tunes the dispatch loop.
type Config struct {
	// PollInterval is the sleep after finding the queue empty.
	PollInterval time.Duration
	// BusyDelay is the sleep after requeueing a job whose resource is held.
	BusyDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BusyDelay <= 0 {
		c.BusyDelay = 2 * time.Second
	}
	return c
}

// Scheduler consumes the pending queue and dispatches jobs one at a time.
// Each iteration pops the head, claims the job's resource lease, and runs
// the job inline; horizontal scale comes from running more worker
// processes against the same store, not from concurrency inside one.
type Scheduler struct {
	store  store.Store
	engine Engine
	runner Dispatcher
	events *events.Broker
	config Config
	active *activeSet
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates a Scheduler. Zero config fields fall back to defaults.
func New(st store.Store, eng Engine, disp Dispatcher, broker *events.Broker, cfg Config) *Scheduler {
	return &Scheduler{
		store:  st,
		engine: eng,
		runner: disp,
		events: broker,
		config: cfg.withDefaults(),
		active: newActiveSet(),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("scheduler"),
	}
}

// Start begins the dispatch loop. Call Recover first so jobs from a
// previous process are settled before new ones launch.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts the loop and waits for in-flight supervision, dispatched and
// re-attached alike, to finish. Callers that cannot wait out a long
// training run may abandon the wait and exit; the containers keep running
// and the next start re-attaches them.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Supervising reports whether this process currently supervises the job,
// from either a dispatch or a recovery re-attachment.
func (s *Scheduler) Supervising(jobID string) bool {
	return s.active.has(jobID)
}

// DispatchNext pops the queue head and, when it is dispatchable, runs it
// to a terminal status inline. The returned job is non-nil only when a
// job actually ran. Used by the one-shot local runner.
func (s *Scheduler) DispatchNext(ctx context.Context) (*types.Job, error) {
	job, _, err := s.dispatchOnce(ctx)
	return job, err
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.logger.Info().
		Dur("poll_interval", s.config.PollInterval).
		Dur("busy_delay", s.config.BusyDelay).
		Msg("Dispatch loop started")
	defer s.logger.Info().Msg("Dispatch loop stopped")

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		_, delay, err := s.dispatchOnce(context.Background())
		if err != nil {
			s.logger.Error().Err(err).Msg("Dispatch iteration failed")
			delay = s.config.PollInterval
		}
		if delay == 0 {
			continue
		}

		select {
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

// dispatchOnce processes the queue head. It returns the job it ran (nil
// when nothing ran) and how long the loop should wait before the next
// iteration: PollInterval on an empty queue, BusyDelay on a held
// resource, zero when there may be more work right behind the head.
func (s *Scheduler) dispatchOnce(ctx context.Context) (*types.Job, time.Duration, error) {
	id, ok, err := s.store.DequeuePending(ctx)
	if err != nil {
		return nil, s.config.PollInterval, fmt.Errorf("failed to pop pending queue: %w", err)
	}
	if !ok {
		return nil, s.config.PollInterval, nil
	}

	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrJobNotFound) {
		s.logger.Debug().Str("job_id", id).Msg("Dropping queue entry for missing job")
		return nil, 0, nil
	}
	if err != nil {
		// Transient read failure: put the entry back so the job is not lost.
		s.requeue(ctx, id)
		return nil, s.config.PollInterval, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	if job.Status != types.JobStatusPending {
		// Cancelled (or otherwise settled) while queued.
		s.logger.Debug().Str("job_id", id).Str("status", string(job.Status)).Msg("Dropping queue entry for non-pending job")
		return nil, 0, nil
	}

	free, err := s.store.ResourceAvailable(ctx, job.Resource)
	if err != nil {
		s.requeue(ctx, id)
		return nil, s.config.PollInterval, fmt.Errorf("failed to check resource %s: %w", job.Resource, err)
	}
	if !free {
		if err := s.store.RequeuePending(ctx, id); err != nil {
			return nil, s.config.PollInterval, fmt.Errorf("failed to requeue job %s: %w", id, err)
		}
		s.logger.Debug().Str("job_id", id).Str("resource", job.Resource).Msg("Resource busy, job requeued")
		return nil, s.config.BusyDelay, nil
	}

	acquired, err := s.store.AcquireResource(ctx, job.Resource, job.ID)
	if err != nil {
		s.requeue(ctx, id)
		return nil, s.config.PollInterval, fmt.Errorf("failed to acquire lease on %s: %w", job.Resource, err)
	}
	if !acquired {
		// Another worker claimed the resource between the check and the
		// claim. Same outcome as busy, without the delay.
		if err := s.store.RequeuePending(ctx, id); err != nil {
			return nil, s.config.PollInterval, fmt.Errorf("failed to requeue job %s: %w", id, err)
		}
		s.logger.Debug().Str("job_id", id).Str("resource", job.Resource).Msg("Lost lease race, job requeued")
		return nil, 0, nil
	}

	s.logger.Info().Str("job_id", job.ID).Str("resource", job.Resource).Msg("Dispatching job")
	s.active.add(job.ID)
	defer s.active.remove(job.ID)
	s.runner.Execute(ctx, job)
	return job, 0, nil
}

// requeue funnels a popped entry back to the tail, logging on failure.
// Used on error paths where losing the entry would strand the job.
func (s *Scheduler) requeue(ctx context.Context, id string) {
	if err := s.store.RequeuePending(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("job_id", id).Msg("Failed to requeue job")
	}
}

// activeSet tracks the job IDs this process is supervising.
type activeSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newActiveSet() *activeSet {
	return &activeSet{ids: make(map[string]struct{})}
}

func (a *activeSet) add(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids[id] = struct{}{}
}

func (a *activeSet) remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.ids, id)
}

func (a *activeSet) has(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.ids[id]
	return ok
}
