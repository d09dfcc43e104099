package scheduler

import (
	"testing"
	"time"

	"github.com/cuemby/dispatch-core/pkg/config"
	"github.com/cuemby/dispatch-core/pkg/events"
	"github.com/cuemby/dispatch-core/pkg/registry"
	"github.com/cuemby/dispatch-core/pkg/storage"
	"github.com/cuemby/dispatch-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*Scheduler, *registry.Registry) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.New(store, nil)
	cfg := config.DefaultDispatcher()
	return New(reg, events.NewBroker(), cfg), reg
}

func idleWorker(id string, cpu float64, ramMb int64) *types.Worker {
	now := types.NowMs()
	return &types.Worker{
		ID:            id,
		Status:        types.WorkerIdle,
		CPUCount:      cpu,
		RamTotalMb:    ramMb,
		LastHeartbeat: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func queuedJob(id string, cpu float64, ramMb int64) *types.Job {
	now := types.NowMs()
	return &types.Job{
		ID:            id,
		Command:       "echo hi",
		RequiredCPU:   cpu,
		RequiredRamMb: ramMb,
		TimeoutMs:     60000,
		MaxRetries:    1,
		Status:        types.JobQueued,
		CreatedAt:     now,
		QueuedAt:      now,
	}
}

func TestAssignPicksEligibleWorkerFIFO(t *testing.T) {
	sched, reg := newTestScheduler(t)

	w := idleWorker("worker-1", 4, 4096)
	require.NoError(t, reg.PutWorker(w))

	j1 := queuedJob("job-1", 1, 512)
	j2 := queuedJob("job-2", 1, 512)
	j2.QueuedAt = j1.QueuedAt + 1
	require.NoError(t, reg.PutJob(j1))
	require.NoError(t, reg.PutJob(j2))

	sched.RunOnce()

	got1, err := reg.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobAssigned, got1.Status)
	assert.Equal(t, "worker-1", got1.AssignedWorkerID)

	gotWorker, err := reg.GetWorker("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerBusy, gotWorker.Status)
	assert.Contains(t, gotWorker.CurrentJobIDs, "job-1")
}

func TestAssignSkipsJobThatDoesNotFitAnyWorker(t *testing.T) {
	sched, reg := newTestScheduler(t)

	w := idleWorker("worker-1", 1, 512)
	require.NoError(t, reg.PutWorker(w))

	j := queuedJob("job-big", 8, 16384)
	require.NoError(t, reg.PutJob(j))

	sched.RunOnce()

	got, err := reg.GetJob("job-big")
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, got.Status)
}

func TestAssignSkipsWorkerOverCPUUsageThreshold(t *testing.T) {
	sched, reg := newTestScheduler(t)

	w := idleWorker("worker-1", 4, 4096)
	w.CPUUsage = 95
	require.NoError(t, reg.PutWorker(w))

	j := queuedJob("job-1", 1, 512)
	require.NoError(t, reg.PutJob(j))

	sched.RunOnce()

	got, err := reg.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, got.Status)
}

func TestAssignPrefersLowerScoringWorker(t *testing.T) {
	sched, reg := newTestScheduler(t)

	busy := idleWorker("worker-busy", 4, 4096)
	busy.CPUUsage = 80
	quiet := idleWorker("worker-quiet", 4, 4096)
	quiet.CPUUsage = 5
	require.NoError(t, reg.PutWorker(busy))
	require.NoError(t, reg.PutWorker(quiet))

	j := queuedJob("job-1", 1, 512)
	require.NoError(t, reg.PutJob(j))

	sched.RunOnce()

	got, err := reg.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-quiet", got.AssignedWorkerID)
}

func TestHealthRefreshMarksWorkerOfflineAndRequeuesJobs(t *testing.T) {
	sched, reg := newTestScheduler(t)

	w := idleWorker("worker-1", 4, 4096)
	w.Status = types.WorkerBusy
	w.CurrentJobIDs = []string{"job-1"}
	w.ReservedCPU = 1
	w.ReservedRamMb = 512
	w.LastHeartbeat = time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, reg.PutWorker(w))

	j := queuedJob("job-1", 1, 512)
	j.Status = types.JobRunning
	j.AssignedWorkerID = "worker-1"
	j.AssignedAt = types.NowMs()
	j.StartedAt = types.NowMs()
	require.NoError(t, reg.PutJob(j))

	sched.RunOnce()

	gotWorker, err := reg.GetWorker("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerOffline, gotWorker.Status)
	assert.Empty(t, gotWorker.CurrentJobIDs)

	gotJob, err := reg.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, gotJob.Status)
	assert.Equal(t, 0, gotJob.Attempts, "offline release must not increment attempts")
}

func TestHealthRefreshRecoversWorkerOnFreshHeartbeat(t *testing.T) {
	sched, reg := newTestScheduler(t)

	w := idleWorker("worker-1", 4, 4096)
	w.Status = types.WorkerOffline
	require.NoError(t, reg.PutWorker(w))

	sched.RunOnce()

	got, err := reg.GetWorker("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerIdle, got.Status)
}

func TestHealthRefreshKeepsWorkerUnhealthyDuringCooldown(t *testing.T) {
	sched, reg := newTestScheduler(t)

	w := idleWorker("worker-1", 4, 4096)
	w.CooldownUntil = types.NowMs() + 60000
	require.NoError(t, reg.PutWorker(w))

	sched.RunOnce()

	got, err := reg.GetWorker("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerUnhealthy, got.Status)
}

func TestTimeoutReclamationRequeuesWithinRetryBudget(t *testing.T) {
	sched, reg := newTestScheduler(t)

	w := idleWorker("worker-1", 4, 4096)
	w.Status = types.WorkerBusy
	w.CurrentJobIDs = []string{"job-1"}
	w.ReservedCPU = 1
	w.ReservedRamMb = 512
	require.NoError(t, reg.PutWorker(w))

	j := queuedJob("job-1", 1, 512)
	j.Status = types.JobRunning
	j.AssignedWorkerID = "worker-1"
	j.TimeoutMs = 1000
	j.StartedAt = time.Now().Add(-time.Hour).UnixMilli()
	j.MaxRetries = 3
	require.NoError(t, reg.PutJob(j))

	// Phase B only: a full RunOnce would let Phase C reassign the requeued
	// job to the now-idle worker in the same pass.
	require.NoError(t, sched.timeoutReclamation())

	got, err := reg.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "Execution timeout", got.ErrorMessage)
}

func TestTimeoutReclamationFailsJobPastRetryBudget(t *testing.T) {
	sched, reg := newTestScheduler(t)

	w := idleWorker("worker-1", 4, 4096)
	w.Status = types.WorkerBusy
	w.CurrentJobIDs = []string{"job-1"}
	require.NoError(t, reg.PutWorker(w))

	j := queuedJob("job-1", 1, 512)
	j.Status = types.JobRunning
	j.AssignedWorkerID = "worker-1"
	j.TimeoutMs = 1000
	j.StartedAt = time.Now().Add(-time.Hour).UnixMilli()
	j.MaxRetries = 0
	j.Attempts = 0
	require.NoError(t, reg.PutJob(j))

	sched.RunOnce()

	got, err := reg.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, got.Status)
	assert.NotZero(t, got.CompletedAt)
}

func TestApplyFailurePenaltySetsCooldownAndReleasesJobs(t *testing.T) {
	sched, reg := newTestScheduler(t)

	w := idleWorker("worker-1", 4, 4096)
	w.Status = types.WorkerBusy
	w.CurrentJobIDs = []string{"job-1", "job-2"}
	w.ReservedCPU = 2
	w.ReservedRamMb = 1024
	require.NoError(t, reg.PutWorker(w))

	j := queuedJob("job-1", 1, 512)
	j.Status = types.JobRunning
	j.AssignedWorkerID = "worker-1"
	require.NoError(t, reg.PutJob(j))

	exhausted := queuedJob("job-2", 1, 512)
	exhausted.MaxRetries = 0
	exhausted.Attempts = 0
	exhausted.Status = types.JobRunning
	exhausted.AssignedWorkerID = "worker-1"
	require.NoError(t, reg.PutJob(exhausted))

	require.NoError(t, sched.ApplyFailurePenalty(w, "agent crashed"))

	got, err := reg.GetWorker("worker-1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerUnhealthy, got.Status)
	assert.Equal(t, "agent crashed", got.HealthReason)
	assert.True(t, got.CooldownUntil > types.NowMs())
	assert.Zero(t, got.ReservedCPU)

	gotJob, err := reg.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, gotJob.Status)

	gotExhausted, err := reg.GetJob("job-2")
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, gotExhausted.Status)
}

func TestReleaseJobLockedTerminalSkipsRequeue(t *testing.T) {
	sched, reg := newTestScheduler(t)

	w := idleWorker("worker-1", 4, 4096)
	w.Status = types.WorkerBusy
	w.CurrentJobIDs = []string{"job-1"}
	w.ReservedCPU = 1
	w.ReservedRamMb = 512
	require.NoError(t, reg.PutWorker(w))

	j := queuedJob("job-1", 1, 512)
	j.Status = types.JobRunning
	j.AssignedWorkerID = "worker-1"

	require.NoError(t, sched.ReleaseJobLocked(w, j, types.JobCancelled, "cancelled by client", false))

	assert.Equal(t, types.JobCancelled, j.Status)
	assert.NotZero(t, j.CompletedAt)
	assert.Empty(t, j.AssignedWorkerID)
}

func TestTriggerIsSafeWithoutStart(t *testing.T) {
	sched, _ := newTestScheduler(t)
	sched.Trigger()
	sched.Trigger()
}
