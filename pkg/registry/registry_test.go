package registry

import (
	"testing"

	"github.com/cuemby/dispatch-core/pkg/apierr"
	"github.com/cuemby/dispatch-core/pkg/storage"
	"github.com/cuemby/dispatch-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, nil)
}

func TestRegistryPutGetJob(t *testing.T) {
	r := newTestRegistry(t)

	job := &types.Job{ID: "job-1", Command: "echo hi", Status: types.JobQueued}
	require.NoError(t, r.PutJob(job))

	got, err := r.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", got.Command)
}

func TestRegistryGetJobNotFound(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.GetJob("missing")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.NotFound, apiErr.Kind)
}

func TestRegistryCachedJobStatusFallsBackWithoutCache(t *testing.T) {
	r := newTestRegistry(t)

	exitCode := 0
	job := &types.Job{ID: "job-1", Status: types.JobCompleted, ExitCode: &exitCode}
	require.NoError(t, r.PutJob(job))

	status, err := r.CachedJobStatus("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, status.Status)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 0, *status.ExitCode)
}

func TestRegistryCachedCancelFlagFallsBackWithoutCache(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.PutJob(&types.Job{ID: "job-1", CancelRequested: true}))

	cancelled, err := r.CachedCancelFlag("job-1")
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestRegistryListJobsFilter(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.PutJob(&types.Job{ID: "q1", Status: types.JobQueued}))
	require.NoError(t, r.PutJob(&types.Job{ID: "r1", Status: types.JobRunning}))

	jobs, err := r.ListJobs(types.JobFilter{Status: []types.JobStatus{types.JobQueued}})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "q1", jobs[0].ID)
}

func TestRegistryWorkerCRUD(t *testing.T) {
	r := newTestRegistry(t)

	w := &types.Worker{ID: "worker-1", Hostname: "host-a", Status: types.WorkerIdle}
	require.NoError(t, r.PutWorker(w))

	got, err := r.GetWorker("worker-1")
	require.NoError(t, err)
	assert.Equal(t, "host-a", got.Hostname)

	require.NoError(t, r.DeleteWorker("worker-1"))
	_, err = r.GetWorker("worker-1")
	require.Error(t, err)
}

func TestRegistryMakeSnapshot(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.PutJob(&types.Job{ID: "job-1"}))
	require.NoError(t, r.PutWorker(&types.Worker{ID: "worker-1"}))

	snap, err := r.MakeSnapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Jobs, 1)
	assert.Len(t, snap.Workers, 1)

	// WarmCache is a no-op without a cache tier; must not panic.
	r.WarmCache(snap)
}
