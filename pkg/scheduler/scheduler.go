// Package scheduler implements the single logical actor that converges the
// system toward "every fitting queued job is assigned; every unhealthy or
// timed-out condition is resolved" (spec §4.2).
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/dispatch-core/pkg/config"
	"github.com/cuemby/dispatch-core/pkg/events"
	"github.com/cuemby/dispatch-core/pkg/log"
	"github.com/cuemby/dispatch-core/pkg/metrics"
	"github.com/cuemby/dispatch-core/pkg/registry"
	"github.com/cuemby/dispatch-core/pkg/types"
	"github.com/rs/zerolog"
)

// Scheduler assigns queued jobs to healthy workers and reclaims unhealthy or
// timed-out state. A single run performs, in order, Phase A (health
// refresh), Phase B (timeout reclamation), Phase C (assignment).
type Scheduler struct {
	reg    *registry.Registry
	broker *events.Broker
	logger zerolog.Logger

	heartbeatTimeout time.Duration
	cooldown         time.Duration
	tick             time.Duration

	mu       sync.Mutex // exclusive section, spec §4.2/§5
	stopCh   chan struct{}
	triggerC chan struct{}
}

// New constructs a Scheduler over reg, publishing lifecycle events to broker
// (may be nil). Timings come from cfg; zero values fall back to spec
// defaults.
func New(reg *registry.Registry, broker *events.Broker, cfg config.Dispatcher) *Scheduler {
	heartbeatTimeout := time.Duration(cfg.HeartbeatTimeoutMs) * time.Millisecond
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}
	cooldown := time.Duration(cfg.CooldownMs) * time.Millisecond
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	tick := time.Duration(cfg.SchedulerTickMs) * time.Millisecond
	if tick <= 0 {
		tick = 5 * time.Second
	}

	return &Scheduler{
		reg:              reg,
		broker:           broker,
		logger:           log.WithComponent("scheduler"),
		heartbeatTimeout: heartbeatTimeout,
		cooldown:         cooldown,
		tick:             tick,
		stopCh:           make(chan struct{}),
		triggerC:         make(chan struct{}, 1),
	}
}

// Start begins the periodic-tick + triggered run loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Trigger requests an out-of-band run, coalescing with any already-pending
// trigger (spec §4.2: "multiple concurrent triggers produce the same end
// state" / §5: "one trailing run is sufficient").
func (s *Scheduler) Trigger() {
	select {
	case s.triggerC <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.triggerC:
			s.runOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) runOnce() {
	timer := metrics.NewTimer()
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		timer.ObserveDuration(metrics.SchedulerTickDuration)
		metrics.SchedulerTicksTotal.Inc()
	}()

	if err := s.healthRefresh(); err != nil {
		s.logger.Error().Err(err).Msg("phase A (health refresh) failed, aborting run")
		return
	}
	if err := s.timeoutReclamation(); err != nil {
		s.logger.Error().Err(err).Msg("phase B (timeout reclamation) failed, aborting run")
		return
	}
	if err := s.assign(); err != nil {
		s.logger.Error().Err(err).Msg("phase C (assignment) failed")
		return
	}
}

// RunOnce runs a single synchronous pass; used by the dispatcher API's
// pollJob handler before it looks up the worker's assigned job, and by tests
// that want a deterministic, immediately-visible effect rather than waiting
// for the ticker/goroutine.
func (s *Scheduler) RunOnce() {
	s.runOnce()
}

func (s *Scheduler) publish(evt *events.Event) {
	if s.broker != nil {
		s.broker.Publish(evt)
	}
}

// healthRefresh is Phase A.
func (s *Scheduler) healthRefresh() error {
	workers, err := s.reg.ListWorkers(types.WorkerFilter{})
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}

	now := time.Now()
	for _, w := range workers {
		if w.CooldownUntil > 0 && now.UnixMilli() < w.CooldownUntil {
			if w.Status != types.WorkerUnhealthy {
				w.Status = types.WorkerUnhealthy
				w.HealthReason = "cooldown"
				w.UpdatedAt = types.NowMs()
				if err := s.reg.PutWorker(w); err != nil {
					return err
				}
			}
			continue
		}

		sinceHeartbeat := now.Sub(time.UnixMilli(w.LastHeartbeat))
		if sinceHeartbeat > s.heartbeatTimeout {
			if w.Status != types.WorkerOffline {
				if err := s.releaseAllJobs(w, false); err != nil {
					return err
				}
				w.Status = types.WorkerOffline
				w.HealthReason = "heartbeat_timeout"
				w.UpdatedAt = types.NowMs()
				if err := s.reg.PutWorker(w); err != nil {
					return err
				}
				metrics.WorkersOfflineTotal.Inc()
				s.publish(&events.Event{Type: events.EventWorkerOffline, WorkerID: w.ID, Message: "heartbeat_timeout"})
			}
			continue
		}

		wasUnhealthyOrOffline := w.Status == types.WorkerOffline || w.Status == types.WorkerUnhealthy
		if wasUnhealthyOrOffline {
			if len(w.CurrentJobIDs) == 0 {
				w.Status = types.WorkerIdle
			} else {
				w.Status = types.WorkerBusy
			}
			w.HealthReason = ""
			w.UpdatedAt = types.NowMs()
			if err := s.reg.PutWorker(w); err != nil {
				return err
			}
			s.publish(&events.Event{Type: events.EventWorkerRecovered, WorkerID: w.ID})
		}
	}
	return nil
}

// timeoutReclamation is Phase B.
func (s *Scheduler) timeoutReclamation() error {
	jobs, err := s.reg.ListJobs(types.JobFilter{Status: []types.JobStatus{types.JobRunning}})
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}

	now := types.NowMs()
	for _, j := range jobs {
		if j.StartedAt == 0 || j.StartedAt+j.TimeoutMs >= now {
			continue
		}

		worker, err := s.reg.GetWorker(j.AssignedWorkerID)
		if err == nil {
			if err := s.releaseJob(worker, j, true); err != nil {
				return err
			}
		}

		if j.Attempts+1 > j.MaxRetries {
			s.markTerminal(j, types.JobFailed, "Execution timeout")
		} else {
			s.requeue(j, "Execution timeout")
		}
		if err := s.reg.PutJob(j); err != nil {
			return err
		}
		metrics.JobsReclaimedTotal.Inc()
		s.publish(&events.Event{Type: events.EventJobFailed, JobID: j.ID, Message: "Execution timeout"})
	}
	return nil
}

// assign is Phase C.
func (s *Scheduler) assign() error {
	queued, err := s.reg.ListJobs(types.JobFilter{Status: []types.JobStatus{types.JobQueued}})
	if err != nil {
		return fmt.Errorf("list queued jobs: %w", err)
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].QueuedAt < queued[j].QueuedAt })

	workers, err := s.reg.ListWorkers(types.WorkerFilter{})
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}

	for _, job := range queued {
		winner := bestCandidate(job, workers)
		if winner == nil {
			continue
		}

		winner.ReservedCPU += job.RequiredCPU
		winner.ReservedRamMb += job.RequiredRamMb
		winner.CurrentJobIDs = append(winner.CurrentJobIDs, job.ID)
		winner.Status = types.WorkerBusy
		winner.UpdatedAt = types.NowMs()

		job.Status = types.JobAssigned
		job.AssignedWorkerID = winner.ID
		job.AssignedAt = types.NowMs()

		if err := s.reg.PutWorker(winner); err != nil {
			return err
		}
		if err := s.reg.PutJob(job); err != nil {
			return err
		}
		metrics.JobsAssignedTotal.Inc()
		s.publish(&events.Event{Type: events.EventJobAssigned, JobID: job.ID, WorkerID: winner.ID})
	}
	return nil
}

// eligible reports whether w can take job per the fitness predicate of spec
// §4.2 Phase C.
func eligible(job *types.Job, w *types.Worker) bool {
	if w.Status != types.WorkerIdle && w.Status != types.WorkerBusy {
		return false
	}
	if w.CooldownUntil > 0 && types.NowMs() < w.CooldownUntil {
		return false
	}
	if w.CPUCount-w.ReservedCPU < job.RequiredCPU {
		return false
	}
	if w.RamTotalMb-w.ReservedRamMb < job.RequiredRamMb {
		return false
	}
	if w.CPUUsage > 90 {
		return false
	}
	return true
}

// score implements the weighted scoring function of spec §4.2 (lower is
// better).
func score(job *types.Job, w *types.Worker) float64 {
	availCPU := w.CPUCount - w.ReservedCPU
	availRam := float64(w.RamTotalMb - w.ReservedRamMb)
	s := 0.6*w.CPUUsage +
		0.3*(w.ReservedCPU/w.CPUCount)*100 +
		0.1*(float64(w.ReservedRamMb)/float64(w.RamTotalMb))*100
	if availCPU > 0 {
		s += 5 / availCPU
	} else {
		s += 5 * 1e9
	}
	if availRam > 0 {
		s += 0.01 / availRam
	} else {
		s += 0.01 * 1e9
	}
	return s
}

// bestCandidate picks the minimum-score eligible worker for job, breaking
// ties by most-recent lastHeartbeat then lexicographic workerId.
func bestCandidate(job *types.Job, workers []*types.Worker) *types.Worker {
	var best *types.Worker
	var bestScore float64

	for _, w := range workers {
		if !eligible(job, w) {
			continue
		}
		sc := score(job, w)
		switch {
		case best == nil:
			best, bestScore = w, sc
		case sc < bestScore:
			best, bestScore = w, sc
		case sc == bestScore:
			if w.LastHeartbeat > best.LastHeartbeat ||
				(w.LastHeartbeat == best.LastHeartbeat && w.ID < best.ID) {
				best, bestScore = w, sc
			}
		}
	}
	return best
}

// releaseJob runs the worker-side part of the job release protocol of spec
// §4.2 for one job on one worker: it frees the reservation, drops the job
// from the worker (IDLE once empty, unless OFFLINE), clears the job's
// assignment timestamps and optionally increments attempts. It does not set
// the job's status; callers requeue it or mark it terminal afterwards.
// releaseAllJobs does this for every job on a worker.
func (s *Scheduler) releaseJob(worker *types.Worker, job *types.Job, incrementAttempts bool) error {
	worker.ReservedCPU -= job.RequiredCPU
	if worker.ReservedCPU < 0 {
		worker.ReservedCPU = 0
	}
	worker.ReservedRamMb -= job.RequiredRamMb
	if worker.ReservedRamMb < 0 {
		worker.ReservedRamMb = 0
	}
	worker.RemoveJob(job.ID)
	if len(worker.CurrentJobIDs) == 0 && worker.Status != types.WorkerOffline {
		worker.Status = types.WorkerIdle
	}
	worker.UpdatedAt = types.NowMs()

	job.AssignedWorkerID = ""
	job.AssignedAt = 0
	job.StartedAt = 0
	job.CompletedAt = 0

	if incrementAttempts {
		job.Attempts++
	}

	return s.reg.PutWorker(worker)
}

// releaseAllJobs releases every job currently on worker (Phase A's
// heartbeat-timeout path and the failure penalty's job release), evaluating
// each individually for retry vs. permanent failure. incrementAttempts is
// false for the heartbeat-timeout path per spec §9 ("attempts is incremented
// when the worker starts a job... the scheduler's release path [offline]
// does NOT increment attempts").
func (s *Scheduler) releaseAllJobs(worker *types.Worker, incrementAttempts bool) error {
	jobIDs := append([]string(nil), worker.CurrentJobIDs...)
	for _, jobID := range jobIDs {
		job, err := s.reg.GetJob(jobID)
		if err != nil {
			continue
		}
		if err := s.releaseJob(worker, job, incrementAttempts); err != nil {
			return err
		}
		if job.Attempts+1 > job.MaxRetries {
			s.markTerminal(job, types.JobFailed, "worker unavailable")
		} else {
			s.requeue(job, "worker unavailable")
		}
		if err := s.reg.PutJob(job); err != nil {
			return err
		}
	}
	return nil
}

// requeue re-enters job into QUEUED per the release protocol's step 5. It
// does not touch attempts; releaseJob increments it beforehand when its
// incrementAttempts argument is true (timeout reclamation does, the offline
// and failure-penalty releases do not).
func (s *Scheduler) requeue(job *types.Job, message string) {
	job.Status = types.JobQueued
	job.QueuedAt = types.NowMs()
	job.ErrorMessage = message
}

// markTerminal sets job to a terminal status with completedAt and message.
func (s *Scheduler) markTerminal(job *types.Job, status types.JobStatus, message string) {
	job.Status = status
	job.CompletedAt = types.NowMs()
	job.ErrorMessage = message
}

// ApplyFailurePenalty implements the worker-reported-failure penalty of spec
// §4.2: UNHEALTHY + cooldown + release of all current jobs. Called by the
// Dispatcher API's reportFailure handler under the scheduler's exclusive
// section.
func (s *Scheduler) ApplyFailurePenalty(worker *types.Worker, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Release first: releaseJob resets an emptied worker to IDLE, so the
	// UNHEALTHY status and cooldown are set after the jobs are gone.
	if err := s.releaseAllJobs(worker, false); err != nil {
		return err
	}

	worker.Status = types.WorkerUnhealthy
	worker.CooldownUntil = types.NowMs() + s.cooldown.Milliseconds()
	worker.HealthReason = reason
	worker.UpdatedAt = types.NowMs()

	metrics.WorkerCooldownsTotal.Inc()
	s.publish(&events.Event{Type: events.EventWorkerUnhealthy, WorkerID: worker.ID, Message: reason})
	return s.reg.PutWorker(worker)
}

// ReleaseJobLocked runs the job release protocol for a single job under the
// scheduler's exclusive section, for callers outside the scheduler loop
// (submitResult, cancelJob, reportFailure). terminal, if non-empty, is the
// status to set instead of requeuing; incrementAttempts controls whether the
// requeue branch bumps attempts (per spec §9, the release protocol's
// generic requeue step increments attempts — reportFailure's retry follows
// that general rule, the offline-worker release path does not).
func (s *Scheduler) ReleaseJobLocked(worker *types.Worker, job *types.Job, terminal types.JobStatus, message string, incrementAttempts bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.releaseJob(worker, job, terminal == "" && incrementAttempts); err != nil {
		return err
	}
	if terminal != "" {
		s.markTerminal(job, terminal, message)
	} else {
		s.requeue(job, message)
	}
	return nil
}
