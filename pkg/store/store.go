package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stokehold/stoker/pkg/types"
)

// Key layout shared by every producer and worker process. The Redis
// backend uses these strings literally; the Bolt backend mirrors them as
// buckets. Changing them breaks running deployments.
const (
	jobKeyPrefix       = "job:"
	queueKey           = "queue:pending"
	resourceKeyPrefix  = "resource:"
	containerKeyPrefix = "container:"
)

// ErrJobNotFound is returned by GetJob and UpdateJob for unknown ids
var ErrJobNotFound = errors.New("job not found")

// Store is the shared state behind the queue: job records, the pending
// queue, resource leases, and the job-to-container mapping. All writes are
// per-key atomic; job records are whole-record JSON replacements, so every
// mutation goes through UpdateJob's read-modify-write.
type Store interface {
	// Jobs
	PutJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	// UpdateJob re-reads the record, applies mutate, and writes it back.
	// If mutate returns an error the write is skipped and the error is
	// returned unchanged. The returned job is the written record.
	UpdateJob(ctx context.Context, id string, mutate func(*types.Job) error) (*types.Job, error)
	ListJobs(ctx context.Context) ([]*types.Job, error)

	// Pending queue (single global FIFO)
	EnqueuePending(ctx context.Context, id string) error
	// DequeuePending pops the head; ok is false when the queue is empty.
	DequeuePending(ctx context.Context) (id string, ok bool, err error)
	// RequeuePending re-appends at the tail (the busy-resource path).
	RequeuePending(ctx context.Context, id string) error
	// RemovePending removes all occurrences of id.
	RemovePending(ctx context.Context, id string) error
	// PendingEntries returns a head-to-tail snapshot without consuming.
	PendingEntries(ctx context.Context) ([]string, error)
	PendingDepth(ctx context.Context) (int64, error)

	// Resource leases
	ResourceAvailable(ctx context.Context, resource string) (bool, error)
	// AcquireResource is an atomic set-if-absent; false means the
	// resource is already held.
	AcquireResource(ctx context.Context, resource, jobID string) (bool, error)
	// ReleaseResource is idempotent; releasing a free resource is a no-op.
	ReleaseResource(ctx context.Context, resource string) error
	// ResourceHolder returns the holding job id, or "" when free.
	ResourceHolder(ctx context.Context, resource string) (string, error)
	ListLeases(ctx context.Context) (map[string]string, error)

	// Container mapping (job id -> engine container id)
	SetContainer(ctx context.Context, jobID, containerID string) error
	// GetContainer returns "" when no mapping exists.
	GetContainer(ctx context.Context, jobID string) (string, error)
	DeleteContainer(ctx context.Context, jobID string) error

	// Utility
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the store named by url and verifies it is reachable.
// Supported schemes: redis:// and rediss:// for the shared deployment,
// bolt://<path> for embedded single-process use.
func Open(ctx context.Context, url string) (Store, error) {
	switch {
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return NewRedisStore(ctx, url)
	case strings.HasPrefix(url, "bolt://"):
		return NewBoltStore(strings.TrimPrefix(url, "bolt://"))
	default:
		return nil, fmt.Errorf("unsupported store url %q (want redis://, rediss:// or bolt://)", url)
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func resourceKey(resource string) string {
	return resourceKeyPrefix + resource
}

func containerKey(jobID string) string {
	return containerKeyPrefix + jobID
}
