package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokehold/stoker/pkg/types"
)

// newTestStores returns one of each backend so every contract test runs
// against both.
func newTestStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rs, err := NewRedisStore(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })

	bs, err := NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	return map[string]Store{"redis": rs, "bolt": bs}
}

func testJob(id string) *types.Job {
	return &types.Job{
		ID:        id,
		Name:      "test-" + id,
		Resource:  "gpu:0",
		Image:     "pytorch/pytorch:latest",
		Status:    types.JobStatusPending,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestJobRoundTrip(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := testJob("j1")

			require.NoError(t, s.PutJob(ctx, job))

			got, err := s.GetJob(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, job.ID, got.ID)
			assert.Equal(t, job.Resource, got.Resource)
			assert.Equal(t, types.JobStatusPending, got.Status)
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetJob(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestUpdateJob(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutJob(ctx, testJob("j2")))

			now := time.Now()
			updated, err := s.UpdateJob(ctx, "j2", func(j *types.Job) error {
				j.Status = types.JobStatusRunning
				j.StartedAt = &now
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, types.JobStatusRunning, updated.Status)

			got, err := s.GetJob(ctx, "j2")
			require.NoError(t, err)
			assert.Equal(t, types.JobStatusRunning, got.Status)
			require.NotNil(t, got.StartedAt)
		})
	}
}

func TestUpdateJobMutateErrorSkipsWrite(t *testing.T) {
	sentinel := errors.New("leave it alone")

	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutJob(ctx, testJob("j3")))

			_, err := s.UpdateJob(ctx, "j3", func(j *types.Job) error {
				j.Status = types.JobStatusFailed
				return sentinel
			})
			assert.ErrorIs(t, err, sentinel)

			got, err := s.GetJob(ctx, "j3")
			require.NoError(t, err)
			assert.Equal(t, types.JobStatusPending, got.Status)
		})
	}
}

func TestUpdateJobNotFound(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpdateJob(context.Background(), "missing", func(j *types.Job) error {
				return nil
			})
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestListJobs(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutJob(ctx, testJob("a")))
			require.NoError(t, s.PutJob(ctx, testJob("b")))

			jobs, err := s.ListJobs(ctx)
			require.NoError(t, err)
			assert.Len(t, jobs, 2)
		})
	}
}

func TestListJobsToleratesGarbageRecords(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutJob(ctx, testJob("good")))
	require.NoError(t, mr.Set("job:bad", "{not json"))

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "good", jobs[0].ID)
}

func TestQueueFIFO(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, s.EnqueuePending(ctx, id))
			}

			var popped []string
			for {
				id, ok, err := s.DequeuePending(ctx)
				require.NoError(t, err)
				if !ok {
					break
				}
				popped = append(popped, id)
			}
			assert.Equal(t, []string{"a", "b", "c"}, popped)
		})
	}
}

func TestQueuePendingEntries(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			empty, err := s.PendingEntries(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty)

			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, s.EnqueuePending(ctx, id))
			}

			entries, err := s.PendingEntries(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, entries)

			// Snapshot must not consume the queue.
			id, ok, err := s.DequeuePending(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "a", id)
		})
	}
}

func TestQueueEmptyDequeue(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			id, ok, err := s.DequeuePending(context.Background())
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, id)
		})
	}
}

func TestQueueRequeueGoesToTail(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.EnqueuePending(ctx, "a"))
			require.NoError(t, s.EnqueuePending(ctx, "b"))

			id, ok, err := s.DequeuePending(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "a", id)

			// Busy-resource path: a rejoins behind b, and a later
			// submission c lands behind a.
			require.NoError(t, s.RequeuePending(ctx, "a"))
			require.NoError(t, s.EnqueuePending(ctx, "c"))

			var popped []string
			for i := 0; i < 3; i++ {
				id, ok, err := s.DequeuePending(ctx)
				require.NoError(t, err)
				require.True(t, ok)
				popped = append(popped, id)
			}
			assert.Equal(t, []string{"b", "a", "c"}, popped)
		})
	}
}

func TestQueueRemoveAllOccurrences(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.EnqueuePending(ctx, "a"))
			require.NoError(t, s.EnqueuePending(ctx, "b"))
			require.NoError(t, s.EnqueuePending(ctx, "a"))

			require.NoError(t, s.RemovePending(ctx, "a"))

			depth, err := s.PendingDepth(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), depth)

			id, ok, err := s.DequeuePending(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "b", id)
		})
	}
}

func TestLeaseLifecycle(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			available, err := s.ResourceAvailable(ctx, "gpu:0")
			require.NoError(t, err)
			assert.True(t, available)

			acquired, err := s.AcquireResource(ctx, "gpu:0", "j1")
			require.NoError(t, err)
			assert.True(t, acquired)

			// Second acquire loses the compare-and-set.
			acquired, err = s.AcquireResource(ctx, "gpu:0", "j2")
			require.NoError(t, err)
			assert.False(t, acquired)

			holder, err := s.ResourceHolder(ctx, "gpu:0")
			require.NoError(t, err)
			assert.Equal(t, "j1", holder)

			available, err = s.ResourceAvailable(ctx, "gpu:0")
			require.NoError(t, err)
			assert.False(t, available)

			require.NoError(t, s.ReleaseResource(ctx, "gpu:0"))

			available, err = s.ResourceAvailable(ctx, "gpu:0")
			require.NoError(t, err)
			assert.True(t, available)

			// Releasing a free resource is a no-op.
			require.NoError(t, s.ReleaseResource(ctx, "gpu:0"))

			acquired, err = s.AcquireResource(ctx, "gpu:0", "j2")
			require.NoError(t, err)
			assert.True(t, acquired)
		})
	}
}

func TestListLeases(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.AcquireResource(ctx, "gpu:0", "j1")
			require.NoError(t, err)
			_, err = s.AcquireResource(ctx, "cpu", "j2")
			require.NoError(t, err)

			leases, err := s.ListLeases(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"gpu:0": "j1", "cpu": "j2"}, leases)
		})
	}
}

func TestContainerMapping(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := s.GetContainer(ctx, "j1")
			require.NoError(t, err)
			assert.Empty(t, id)

			require.NoError(t, s.SetContainer(ctx, "j1", "c-abc"))

			id, err = s.GetContainer(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, "c-abc", id)

			require.NoError(t, s.DeleteContainer(ctx, "j1"))

			id, err = s.GetContainer(ctx, "j1")
			require.NoError(t, err)
			assert.Empty(t, id)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s, err := Open(ctx, "redis://"+mr.Addr())
		require.NoError(t, err)
		assert.NoError(t, s.Ping(ctx))
		s.Close()
	})

	t.Run("bolt", func(t *testing.T) {
		s, err := Open(ctx, "bolt://"+filepath.Join(t.TempDir(), "state.db"))
		require.NoError(t, err)
		assert.NoError(t, s.Ping(ctx))
		s.Close()
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := Open(ctx, "postgres://localhost/jobs")
		assert.Error(t, err)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		_, err := Open(ctx, "redis://127.0.0.1:1")
		assert.Error(t, err)
	})
}
