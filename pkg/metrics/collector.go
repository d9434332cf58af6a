package metrics

import (
	"context"
	"time"

	"github.com/stokehold/stoker/pkg/store"
	"github.com/stokehold/stoker/pkg/types"
)

// collectInterval is how often the gauges are refreshed from the store.
const collectInterval = 15 * time.Second

// Collector polls the store and keeps the queue and job gauges current
type Collector struct {
	store  store.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(st store.Store) *Collector {
	return &Collector{
		store:  st,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(collectInterval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectQueueMetrics(ctx)
	c.collectLeaseMetrics(ctx)
	c.collectJobMetrics(ctx)
}

func (c *Collector) collectQueueMetrics(ctx context.Context) {
	depth, err := c.store.PendingDepth(ctx)
	if err != nil {
		return
	}
	QueueDepth.Set(float64(depth))
}

func (c *Collector) collectLeaseMetrics(ctx context.Context) {
	leases, err := c.store.ListLeases(ctx)
	if err != nil {
		return
	}
	LeasesHeld.Set(float64(len(leases)))
}

func (c *Collector) collectJobMetrics(ctx context.Context) {
	jobs, err := c.store.ListJobs(ctx)
	if err != nil {
		return
	}

	counts := make(map[types.JobStatus]int)
	for _, job := range jobs {
		counts[job.Status]++
	}

	// Set every known status so counts that drop to zero reset.
	for _, status := range []types.JobStatus{
		types.JobStatusPending,
		types.JobStatusRunning,
		types.JobStatusCompleted,
		types.JobStatusFailed,
		types.JobStatusCancelled,
	} {
		JobsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
