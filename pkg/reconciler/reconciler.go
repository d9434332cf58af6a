package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stokehold/stoker/pkg/events"
	"github.com/stokehold/stoker/pkg/log"
	"github.com/stokehold/stoker/pkg/metrics"
	"github.com/stokehold/stoker/pkg/runner"
	"github.com/stokehold/stoker/pkg/store"
	"github.com/stokehold/stoker/pkg/types"
)

const defaultInterval = 30 * time.Second

// sweepTimeout bounds one sweep so a hung store or engine call cannot
// stall the ticker forever.
const sweepTimeout = 20 * time.Second

// Supervisor reports whether this process actively supervises a job.
type Supervisor interface {
	Supervising(jobID string) bool
}

// Engine is the container-liveness slice of the driver.
type Engine interface {
	Alive(ctx context.Context, containerID string) (bool, error)
	FindByName(ctx context.Context, name string) (string, error)
}

// Reconciler periodically settles running jobs that lost their
// supervisor without a process restart: a runner goroutine that died, or
// a lease left behind by another crashed writer. Jobs supervised by this
// process and jobs whose container is still up are left alone.
type Reconciler struct {
	store      store.Store
	engine     Engine
	supervisor Supervisor
	events     *events.Broker
	interval   time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	logger     zerolog.Logger
}

// New creates a Reconciler. A non-positive interval falls back to 30s.
func New(st store.Store, eng Engine, sup Supervisor, broker *events.Broker, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reconciler{
		store:      st,
		engine:     eng,
		supervisor: sup,
		events:     broker,
		interval:   interval,
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("reconciler"),
	}
}

// Start begins the sweep loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
	r.logger.Info().Dur("interval", r.interval).Msg("Reconciler started")
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info().Msg("Reconciler stopped")
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Sweep failed")
			}
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// Sweep runs one reconciliation pass over all running jobs.
func (r *Reconciler) Sweep(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCycles.Inc()
	}()

	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	for _, job := range jobs {
		if job.Status != types.JobStatusRunning {
			continue
		}
		if r.supervisor.Supervising(job.ID) {
			continue
		}
		r.sweepJob(ctx, job)
	}
	return nil
}

// sweepJob settles one unsupervised running job. Only a container that
// is definitively gone triggers the transition; any store or engine
// error defers the decision to the next sweep.
func (r *Reconciler) sweepJob(ctx context.Context, job *types.Job) {
	logger := r.logger.With().Str("job_id", job.ID).Logger()

	containerID, err := r.findContainer(ctx, job)
	if err != nil {
		logger.Warn().Err(err).Msg("Container lookup failed, deferring to next sweep")
		return
	}
	if containerID != "" {
		alive, err := r.engine.Alive(ctx, containerID)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to inspect container, deferring to next sweep")
			return
		}
		if alive {
			// Another worker process owns this one.
			return
		}
	}

	logger.Warn().Msg("Running job has no container and no supervisor, failing it")
	if err := runner.FailAbandoned(ctx, r.store, job, runner.AbandonedReason); err != nil {
		logger.Error().Err(err).Msg("Failed to settle abandoned job")
		return
	}
	metrics.JobsRecovered.WithLabelValues("failed").Inc()
	r.events.PublishJob(events.EventJobFailed, job.ID, runner.AbandonedReason)
}

// findContainer resolves the job's container: the store mapping first,
// then the id recorded on the job, then a lookup by the deterministic
// container name. A lookup error means "unknown", never "gone".
func (r *Reconciler) findContainer(ctx context.Context, job *types.Job) (string, error) {
	id, err := r.store.GetContainer(ctx, job.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read container mapping: %w", err)
	}
	if id != "" {
		return id, nil
	}
	if job.ContainerID != "" {
		return job.ContainerID, nil
	}

	id, err = r.engine.FindByName(ctx, types.ContainerName(job.ID))
	if err != nil {
		return "", fmt.Errorf("container lookup by name failed: %w", err)
	}
	return id, nil
}
