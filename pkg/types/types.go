package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Job represents a single training-job submission.
//
// The struct is the wire contract for the shared store: records are
// serialized as JSON under `job:<id>` and read by both the producer and the
// worker, so field names are fixed. Readers tolerate unknown fields.
type Job struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Resource    string     `json:"resource"`      // "gpu:<n>" or "cpu"
	Image       string     `json:"runtime_image"` // base container image
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Error       string     `json:"error,omitempty"`
	ContainerID string     `json:"container_id,omitempty"`
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal statuses never
// revert; only opportunistic container_id cleanup may write after one.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ResourceKind classifies a compute slot
type ResourceKind string

const (
	ResourceKindCPU ResourceKind = "cpu"
	ResourceKindGPU ResourceKind = "gpu"
)

// Resource is the parsed form of a resource string ("cpu" or "gpu:<n>").
// Each resource is an exclusive slot: at most one job holds it at a time.
type Resource struct {
	Kind  ResourceKind
	Index int // GPU device index; meaningful only for ResourceKindGPU
}

// ParseResource parses a resource string. Anything other than "cpu" or
// "gpu:<n>" with a non-negative device index is rejected.
func ParseResource(s string) (Resource, error) {
	if s == string(ResourceKindCPU) {
		return Resource{Kind: ResourceKindCPU}, nil
	}
	if idx, ok := strings.CutPrefix(s, "gpu:"); ok {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Resource{}, fmt.Errorf("invalid gpu index %q in resource %q", idx, s)
		}
		return Resource{Kind: ResourceKindGPU, Index: n}, nil
	}
	return Resource{}, fmt.Errorf("unknown resource %q (want \"cpu\" or \"gpu:<n>\")", s)
}

// String returns the canonical resource string
func (r Resource) String() string {
	if r.Kind == ResourceKindGPU {
		return fmt.Sprintf("gpu:%d", r.Index)
	}
	return string(ResourceKindCPU)
}

// DeviceIndex returns the GPU index as a string for device requests
func (r Resource) DeviceIndex() string {
	return strconv.Itoa(r.Index)
}

// Clone returns a deep copy of the job record
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ContainerName returns the engine-visible container name for a job
func ContainerName(jobID string) string {
	return "ml-job-" + jobID
}
