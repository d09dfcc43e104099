package storage

import (
	"testing"

	"github.com/cuemby/dispatch-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStoreJobRoundTrip(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{ID: "job-1", Command: "echo hi", Status: types.JobQueued}
	require.NoError(t, store.PutJob(job))

	got, err := store.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, job.Command, got.Command)
	assert.Equal(t, types.JobQueued, got.Status)
}

func TestBoltStoreGetJobNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStoreListJobsFilter(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutJob(&types.Job{ID: "q1", Status: types.JobQueued}))
	require.NoError(t, store.PutJob(&types.Job{ID: "r1", Status: types.JobRunning, AssignedWorkerID: "w1"}))
	require.NoError(t, store.PutJob(&types.Job{ID: "r2", Status: types.JobRunning, AssignedWorkerID: "w2"}))

	running, err := store.ListJobs(types.JobFilter{Status: []types.JobStatus{types.JobRunning}})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	onW1, err := store.ListJobs(types.JobFilter{AssignedWorkerID: "w1"})
	require.NoError(t, err)
	require.Len(t, onW1, 1)
	assert.Equal(t, "r1", onW1[0].ID)
}

func TestBoltStoreDeleteJob(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutJob(&types.Job{ID: "job-1"}))
	require.NoError(t, store.DeleteJob("job-1"))

	_, err := store.GetJob("job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStoreWorkerRoundTrip(t *testing.T) {
	store := newTestStore(t)

	w := &types.Worker{ID: "worker-1", Hostname: "host-a", Status: types.WorkerIdle}
	require.NoError(t, store.PutWorker(w))

	got, err := store.GetWorker("worker-1")
	require.NoError(t, err)
	assert.Equal(t, "host-a", got.Hostname)

	require.NoError(t, store.DeleteWorker("worker-1"))
	_, err = store.GetWorker("worker-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStoreListWorkersFilter(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutWorker(&types.Worker{ID: "w1", Status: types.WorkerIdle}))
	require.NoError(t, store.PutWorker(&types.Worker{ID: "w2", Status: types.WorkerOffline}))

	idle, err := store.ListWorkers(types.WorkerFilter{Status: []types.WorkerStatus{types.WorkerIdle}})
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "w1", idle[0].ID)
}
