package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokehold/stoker/pkg/events"
	"github.com/stokehold/stoker/pkg/store"
	"github.com/stokehold/stoker/pkg/types"
)

// fakeDispatcher records dispatches without running anything. Resume can
// be made to block so tests can observe in-flight supervision.
type fakeDispatcher struct {
	mu       sync.Mutex
	executed []string
	resumed  map[string]string

	resumeStarted chan string
	resumeBlock   chan struct{}
}

func (f *fakeDispatcher) Execute(_ context.Context, job *types.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, job.ID)
}

func (f *fakeDispatcher) Resume(_ context.Context, job *types.Job, containerID string) {
	f.mu.Lock()
	if f.resumed == nil {
		f.resumed = make(map[string]string)
	}
	f.resumed[job.ID] = containerID
	started := f.resumeStarted
	block := f.resumeBlock
	f.mu.Unlock()

	if started != nil {
		started <- job.ID
	}
	if block != nil {
		<-block
	}
}

func (f *fakeDispatcher) executedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func (f *fakeDispatcher) resumedContainer(jobID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumed[jobID]
}

type fakeEngine struct {
	alive  map[string]bool
	byName map[string]string
}

func (f *fakeEngine) Alive(_ context.Context, containerID string) (bool, error) {
	return f.alive[containerID], nil
}

func (f *fakeEngine) FindByName(_ context.Context, name string) (string, error) {
	return f.byName[name], nil
}

func newTestScheduler(t *testing.T) (*Scheduler, store.Store, *fakeDispatcher, *fakeEngine) {
	t.Helper()

	mr := miniredis.RunT(t)
	st, err := store.Open(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	disp := &fakeDispatcher{}
	eng := &fakeEngine{alive: map[string]bool{}, byName: map[string]string{}}
	sched := New(st, eng, disp, events.NewBroker(), Config{
		PollInterval: 10 * time.Millisecond,
		BusyDelay:    5 * time.Millisecond,
	})
	return sched, st, disp, eng
}

func seedPending(t *testing.T, st store.Store, id, resource string) *types.Job {
	t.Helper()

	job := &types.Job{
		ID:        id,
		Name:      "test-" + id,
		Resource:  resource,
		Image:     "python:3.11-slim",
		Status:    types.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	ctx := context.Background()
	require.NoError(t, st.PutJob(ctx, job))
	require.NoError(t, st.EnqueuePending(ctx, id))
	return job
}

func pendingEntries(t *testing.T, st store.Store) []string {
	t.Helper()
	entries, err := st.PendingEntries(context.Background())
	require.NoError(t, err)
	return entries
}

func TestDispatchNextRunsHead(t *testing.T) {
	sched, st, disp, _ := newTestScheduler(t)
	ctx := context.Background()

	seedPending(t, st, "j1", "gpu:0")
	seedPending(t, st, "j2", "gpu:1")

	job, err := sched.DispatchNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, []string{"j1"}, disp.executedIDs())

	// The lease was claimed before dispatch; releasing is the runner's
	// side, which the fake does not do.
	holder, err := st.ResourceHolder(ctx, "gpu:0")
	require.NoError(t, err)
	assert.Equal(t, "j1", holder)
	assert.Equal(t, []string{"j2"}, pendingEntries(t, st))

	job, err = sched.DispatchNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j2", job.ID)
	assert.Equal(t, []string{"j1", "j2"}, disp.executedIDs())
}

func TestDispatchNextEmptyQueue(t *testing.T) {
	sched, _, disp, _ := newTestScheduler(t)

	job, err := sched.DispatchNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Empty(t, disp.executedIDs())
}

func TestDispatchDropsMissingJob(t *testing.T) {
	sched, st, disp, _ := newTestScheduler(t)
	ctx := context.Background()

	// A queue entry without a record: deleted out-of-band or never
	// written. The loop consumes and ignores it.
	require.NoError(t, st.EnqueuePending(ctx, "ghost"))
	seedPending(t, st, "j1", "cpu")

	job, err := sched.DispatchNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Empty(t, disp.executedIDs())

	job, err = sched.DispatchNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.ID)
}

func TestDispatchDropsCancelledJob(t *testing.T) {
	sched, st, disp, _ := newTestScheduler(t)
	ctx := context.Background()

	seedPending(t, st, "j1", "gpu:0")
	now := time.Now().UTC()
	_, err := st.UpdateJob(ctx, "j1", func(j *types.Job) error {
		j.Status = types.JobStatusCancelled
		j.CompletedAt = &now
		return nil
	})
	require.NoError(t, err)

	job, err := sched.DispatchNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Empty(t, disp.executedIDs())
	assert.Empty(t, pendingEntries(t, st), "entry consumed, not requeued")

	free, err := st.ResourceAvailable(ctx, "gpu:0")
	require.NoError(t, err)
	assert.True(t, free, "no lease claimed for a dropped job")
}

func TestDispatchBusyResourceRequeuesAtTail(t *testing.T) {
	sched, st, disp, _ := newTestScheduler(t)
	ctx := context.Background()

	acquired, err := st.AcquireResource(ctx, "gpu:0", "other")
	require.NoError(t, err)
	require.True(t, acquired)

	seedPending(t, st, "j1", "gpu:0")
	seedPending(t, st, "j2", "cpu")

	job, err := sched.DispatchNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Empty(t, disp.executedIDs())
	assert.Equal(t, []string{"j2", "j1"}, pendingEntries(t, st), "blocked head moves to the tail")

	// The queue keeps moving: the job behind the blocked one runs next.
	job, err = sched.DispatchNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j2", job.ID)
	assert.Equal(t, []string{"j1"}, pendingEntries(t, st))
}

// raceStore reports every resource as free so the subsequent atomic
// claim is the first to learn the lease is held.
type raceStore struct {
	store.Store
}

func (raceStore) ResourceAvailable(context.Context, string) (bool, error) {
	return true, nil
}

func TestDispatchLostLeaseRaceRequeues(t *testing.T) {
	_, st, disp, eng := newTestScheduler(t)
	ctx := context.Background()

	acquired, err := st.AcquireResource(ctx, "gpu:0", "other")
	require.NoError(t, err)
	require.True(t, acquired)
	seedPending(t, st, "j1", "gpu:0")

	sched := New(raceStore{st}, eng, disp, events.NewBroker(), Config{})

	job, err := sched.DispatchNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Empty(t, disp.executedIDs())
	assert.Equal(t, []string{"j1"}, pendingEntries(t, st))

	holder, err := st.ResourceHolder(ctx, "gpu:0")
	require.NoError(t, err)
	assert.Equal(t, "other", holder, "losing the race must not steal the lease")
}

func TestLoopDispatchesAndStops(t *testing.T) {
	sched, st, disp, _ := newTestScheduler(t)

	seedPending(t, st, "j1", "gpu:0")
	seedPending(t, st, "j2", "gpu:1")

	sched.Start()
	assert.Eventually(t, func() bool {
		return len(disp.executedIDs()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	sched.Stop()

	assert.Equal(t, []string{"j1", "j2"}, disp.executedIDs())
}

func TestRecoverResumesAliveContainer(t *testing.T) {
	sched, st, disp, eng := newTestScheduler(t)
	ctx := context.Background()

	job := seedPending(t, st, "j1", "gpu:0")
	require.NoError(t, st.RemovePending(ctx, job.ID))
	_, err := st.UpdateJob(ctx, job.ID, func(j *types.Job) error {
		j.Status = types.JobStatusRunning
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, st.SetContainer(ctx, job.ID, "c1"))
	eng.alive["c1"] = true

	disp.resumeStarted = make(chan string, 1)
	disp.resumeBlock = make(chan struct{})

	require.NoError(t, sched.Recover(ctx))

	select {
	case id := <-disp.resumeStarted:
		assert.Equal(t, "j1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("resume never started")
	}
	assert.True(t, sched.Supervising("j1"), "re-attached job counts as supervised")

	close(disp.resumeBlock)
	assert.Eventually(t, func() bool {
		return !sched.Supervising("j1")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "c1", disp.resumedContainer("j1"))

	// Supervision was handed to the resume path; the record stays
	// running until that path settles it.
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, got.Status)
}

func TestRecoverFindsContainerByName(t *testing.T) {
	sched, st, disp, eng := newTestScheduler(t)
	ctx := context.Background()

	job := seedPending(t, st, "j1", "gpu:0")
	require.NoError(t, st.RemovePending(ctx, job.ID))
	_, err := st.UpdateJob(ctx, job.ID, func(j *types.Job) error {
		j.Status = types.JobStatusRunning
		return nil
	})
	require.NoError(t, err)

	// No mapping survived; only the deterministic name finds it.
	eng.byName[types.ContainerName(job.ID)] = "c-found"
	eng.alive["c-found"] = true
	disp.resumeStarted = make(chan string, 1)

	require.NoError(t, sched.Recover(ctx))

	select {
	case <-disp.resumeStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("resume never started")
	}
	assert.Eventually(t, func() bool {
		return disp.resumedContainer("j1") == "c-found"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecoverFailsAbandonedJob(t *testing.T) {
	sched, st, disp, _ := newTestScheduler(t)
	ctx := context.Background()

	job := seedPending(t, st, "j1", "gpu:0")
	_, err := st.UpdateJob(ctx, job.ID, func(j *types.Job) error {
		j.Status = types.JobStatusRunning
		return nil
	})
	require.NoError(t, err)
	acquired, err := st.AcquireResource(ctx, "gpu:0", job.ID)
	require.NoError(t, err)
	require.True(t, acquired)

	// Container gone: no mapping, nothing by name.
	require.NoError(t, sched.Recover(ctx))

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, final.Status)
	assert.Equal(t, "worker restarted mid-run", final.Error)
	assert.NotNil(t, final.CompletedAt)

	free, err := st.ResourceAvailable(ctx, "gpu:0")
	require.NoError(t, err)
	assert.True(t, free, "lease released with the job")
	assert.Empty(t, pendingEntries(t, st), "stale queue entry removed")
	assert.Empty(t, disp.executedIDs())

	// A second pass sees the job terminal and leaves it alone.
	require.NoError(t, sched.Recover(ctx))
	again, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, final.CompletedAt.Unix(), again.CompletedAt.Unix())
}

func TestRecoverIgnoresSettledJobs(t *testing.T) {
	sched, st, disp, _ := newTestScheduler(t)
	ctx := context.Background()

	seedPending(t, st, "j1", "cpu")
	job2 := seedPending(t, st, "j2", "gpu:0")
	require.NoError(t, st.RemovePending(ctx, job2.ID))
	now := time.Now().UTC()
	_, err := st.UpdateJob(ctx, job2.ID, func(j *types.Job) error {
		j.Status = types.JobStatusCompleted
		j.CompletedAt = &now
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, sched.Recover(ctx))

	assert.Empty(t, disp.executedIDs())
	assert.Equal(t, []string{"j1"}, pendingEntries(t, st), "pending jobs stay queued for the loop")

	got, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, got.Status)
}
