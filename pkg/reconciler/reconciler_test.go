package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokehold/stoker/pkg/events"
	"github.com/stokehold/stoker/pkg/store"
	"github.com/stokehold/stoker/pkg/types"
)

type fakeSupervisor map[string]bool

func (f fakeSupervisor) Supervising(jobID string) bool { return f[jobID] }

type fakeEngine struct {
	alive     map[string]bool
	byName    map[string]string
	aliveErr  error
	byNameErr error
}

func (f *fakeEngine) Alive(_ context.Context, containerID string) (bool, error) {
	if f.aliveErr != nil {
		return false, f.aliveErr
	}
	return f.alive[containerID], nil
}

func (f *fakeEngine) FindByName(_ context.Context, name string) (string, error) {
	if f.byNameErr != nil {
		return "", f.byNameErr
	}
	return f.byName[name], nil
}

func newTestReconciler(t *testing.T) (*Reconciler, store.Store, *fakeEngine, fakeSupervisor) {
	t.Helper()

	mr := miniredis.RunT(t)
	st, err := store.Open(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng := &fakeEngine{alive: map[string]bool{}, byName: map[string]string{}}
	sup := fakeSupervisor{}
	rec := New(st, eng, sup, events.NewBroker(), time.Hour)
	return rec, st, eng, sup
}

func seedRunning(t *testing.T, st store.Store, id, resource string) *types.Job {
	t.Helper()
	ctx := context.Background()

	job := &types.Job{
		ID:        id,
		Name:      "test-" + id,
		Resource:  resource,
		Image:     "python:3.11-slim",
		Status:    types.JobStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.PutJob(ctx, job))

	acquired, err := st.AcquireResource(ctx, resource, id)
	require.NoError(t, err)
	require.True(t, acquired)
	return job
}

func TestSweepFailsAbandonedJob(t *testing.T) {
	rec, st, _, _ := newTestReconciler(t)
	ctx := context.Background()

	seedRunning(t, st, "j1", "gpu:0")
	// No container mapping, nothing by name: the container is gone.

	require.NoError(t, rec.Sweep(ctx))

	final, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, final.Status)
	assert.Equal(t, "worker restarted mid-run", final.Error)
	assert.NotNil(t, final.CompletedAt)

	free, err := st.ResourceAvailable(ctx, "gpu:0")
	require.NoError(t, err)
	assert.True(t, free, "sweep releases the lease with the job")
}

func TestSweepLeavesSupervisedJobAlone(t *testing.T) {
	rec, st, _, sup := newTestReconciler(t)
	ctx := context.Background()

	seedRunning(t, st, "j1", "gpu:0")
	sup["j1"] = true

	require.NoError(t, rec.Sweep(ctx))

	got, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, got.Status)

	holder, err := st.ResourceHolder(ctx, "gpu:0")
	require.NoError(t, err)
	assert.Equal(t, "j1", holder)
}

func TestSweepLeavesAliveContainerAlone(t *testing.T) {
	rec, st, eng, _ := newTestReconciler(t)
	ctx := context.Background()

	// Running under another worker process: mapping present, container up.
	job := seedRunning(t, st, "j1", "gpu:0")
	require.NoError(t, st.SetContainer(ctx, job.ID, "c1"))
	eng.alive["c1"] = true

	require.NoError(t, rec.Sweep(ctx))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, got.Status)
}

func TestSweepFindsContainerByName(t *testing.T) {
	rec, st, eng, _ := newTestReconciler(t)
	ctx := context.Background()

	// Mapping lost, but the container still exists under its
	// deterministic name: not abandoned.
	job := seedRunning(t, st, "j1", "gpu:0")
	eng.byName[types.ContainerName(job.ID)] = "c-found"
	eng.alive["c-found"] = true

	require.NoError(t, rec.Sweep(ctx))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, got.Status)
}

func TestSweepDefersOnEngineError(t *testing.T) {
	rec, st, eng, _ := newTestReconciler(t)
	ctx := context.Background()

	job := seedRunning(t, st, "j1", "gpu:0")
	require.NoError(t, st.SetContainer(ctx, job.ID, "c1"))
	eng.aliveErr = errors.New("engine unreachable")

	require.NoError(t, rec.Sweep(ctx))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, got.Status, "an engine blip must not fail a live job")
}

func TestSweepDefersOnLookupError(t *testing.T) {
	rec, st, eng, _ := newTestReconciler(t)
	ctx := context.Background()

	// No mapping and the by-name lookup fails: unknown is not gone.
	seedRunning(t, st, "j1", "gpu:0")
	eng.byNameErr = errors.New("engine unreachable")

	require.NoError(t, rec.Sweep(ctx))

	got, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, got.Status)
}

func TestSweepIgnoresTerminalJobs(t *testing.T) {
	rec, st, _, _ := newTestReconciler(t)
	ctx := context.Background()

	job := seedRunning(t, st, "j1", "gpu:0")
	now := time.Now().UTC()
	_, err := st.UpdateJob(ctx, job.ID, func(j *types.Job) error {
		j.Status = types.JobStatusCompleted
		j.CompletedAt = &now
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, rec.Sweep(ctx))

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestLoopSweepsOnTicker(t *testing.T) {
	_, st, eng, sup := newTestReconciler(t)
	ctx := context.Background()

	seedRunning(t, st, "j1", "gpu:0")

	rec := New(st, eng, sup, events.NewBroker(), 20*time.Millisecond)
	rec.Start()
	defer rec.Stop()

	assert.Eventually(t, func() bool {
		got, err := st.GetJob(ctx, "j1")
		return err == nil && got.Status == types.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}
