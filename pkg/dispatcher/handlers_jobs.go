package dispatcher

import (
	"net/http"

	"github.com/cuemby/dispatch-core/pkg/apierr"
	"github.com/cuemby/dispatch-core/pkg/events"
	"github.com/cuemby/dispatch-core/pkg/types"
	"github.com/google/uuid"
)

type createJobRequest struct {
	Command       string   `json:"command"`
	BundleRef     string   `json:"bundleRef"`
	BundleName    string   `json:"bundleName"`
	RequiredCPU   *float64 `json:"requiredCpu,omitempty"`
	RequiredRamMb *int64   `json:"requiredRamMb,omitempty"`
	TimeoutMs     *int64   `json:"timeoutMs,omitempty"`
	MaxRetries    *int     `json:"maxRetries,omitempty"`
}

// handleCreateJob implements `createJob` (spec §4.3/§6): create with
// status=QUEUED, queuedAt=now, attempts=0, trigger scheduler.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Command == "" {
		writeError(w, apierr.New(apierr.BadRequest, "command is required"))
		return
	}

	now := types.NowMs()
	job := &types.Job{
		ID:            uuid.New().String(),
		Command:       req.Command,
		BundleRef:     req.BundleRef,
		BundleName:    req.BundleName,
		RequiredCPU:   orDefaultF(req.RequiredCPU, s.cfg.DefaultCPU),
		RequiredRamMb: orDefaultI(req.RequiredRamMb, s.cfg.DefaultRamMb),
		TimeoutMs:     orDefaultI(req.TimeoutMs, s.cfg.DefaultTimeoutMs),
		MaxRetries:    orDefaultInt(req.MaxRetries, s.cfg.DefaultMaxRetries),
		Status:        types.JobQueued,
		CreatedAt:     now,
		QueuedAt:      now,
	}

	if err := s.reg.PutJob(job); err != nil {
		writeError(w, err)
		return
	}
	s.sched.Trigger()
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventJobCreated, JobID: job.ID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "jobId": job.ID})
}

func orDefaultF(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func orDefaultI(v *int64, def int64) int64 {
	if v != nil {
		return *v
	}
	return def
}

func orDefaultInt(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

// handleGetJob implements `pollJob` (spec §4.3/§6): trigger scheduler first,
// then atomically transition the single ASSIGNED job for this worker to
// RUNNING, incrementing attempts (per spec §9; the scheduler's timeout
// reclamation and reportFailure's requeue path increment it as well).
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("workerId")
	if workerID == "" {
		writeError(w, apierr.New(apierr.BadRequest, "workerId is required"))
		return
	}

	s.sched.RunOnce()

	jobs, err := s.reg.ListJobs(types.JobFilter{
		Status:           []types.JobStatus{types.JobAssigned},
		AssignedWorkerID: workerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if len(jobs) == 0 {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"job": nil})
		return
	}

	job := jobs[0]
	job.Status = types.JobRunning
	job.StartedAt = types.NowMs()
	job.Attempts++

	if err := s.reg.PutJob(job); err != nil {
		writeError(w, err)
		return
	}
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventJobRunning, JobID: job.ID, WorkerID: workerID})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"job": map[string]interface{}{
			"jobId":      job.ID,
			"command":    job.Command,
			"bundleRef":  job.BundleRef,
			"bundleName": job.BundleName,
			"timeoutMs":  job.TimeoutMs,
		},
	})
}

type streamOutputRequest struct {
	JobID string `json:"jobId"`
	Data  string `json:"data"`
	Type  string `json:"type"`
}

// handleStreamOutput implements `streamOutput` (spec §4.3/§6). Accepts and
// appends chunks arriving after a terminal state rather than rejecting them
// (see DESIGN.md Open Question decisions): the status field itself is never
// reopened.
func (s *Server) handleStreamOutput(w http.ResponseWriter, r *http.Request) {
	var req streamOutputRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	job, err := s.reg.GetJob(req.JobID)
	if err != nil {
		writeError(w, apierr.New(apierr.NotFound, "job "+req.JobID))
		return
	}

	switch req.Type {
	case "stdout":
		job.Stdout += req.Data
	case "stderr":
		job.Stderr += req.Data
	default:
		writeError(w, apierr.New(apierr.BadRequest, "type must be stdout or stderr"))
		return
	}
	job.LastStreamedAt = types.NowMs()

	if err := s.reg.PutJob(job); err != nil {
		writeError(w, err)
		return
	}
	s.sched.Trigger()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type submitResultRequest struct {
	JobID      string `json:"jobId"`
	WorkerID   string `json:"workerId"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exitCode"`
	ResultRef  string `json:"resultRef,omitempty"`
	ResultName string `json:"resultName,omitempty"`
}

// handleSubmitResult implements `submitResult` (spec §4.3/§6): validate
// ownership, transition to COMPLETED, release resources, trigger scheduler.
func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var req submitResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	job, err := s.reg.GetJob(req.JobID)
	if err != nil {
		writeError(w, apierr.New(apierr.NotFound, "job "+req.JobID))
		return
	}
	if job.AssignedWorkerID != req.WorkerID {
		writeError(w, apierr.New(apierr.JobNotOwned, "job "+req.JobID+" not assigned to "+req.WorkerID))
		return
	}

	worker, werr := s.reg.GetWorker(req.WorkerID)

	job.Stdout = req.Stdout
	job.Stderr = req.Stderr
	exitCode := req.ExitCode
	job.ExitCode = &exitCode
	job.ResultRef = req.ResultRef

	if werr == nil {
		if err := s.sched.ReleaseJobLocked(worker, job, types.JobCompleted, "", false); err != nil {
			writeError(w, err)
			return
		}
		if err := s.reg.PutWorker(worker); err != nil {
			writeError(w, err)
			return
		}
	} else {
		job.Status = types.JobCompleted
		job.CompletedAt = types.NowMs()
	}

	if err := s.reg.PutJob(job); err != nil {
		writeError(w, err)
		return
	}
	s.sched.Trigger()
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventJobCompleted, JobID: job.ID, WorkerID: req.WorkerID})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "jobId": job.ID})
}

type reportFailureRequest struct {
	JobID        string `json:"jobId"`
	WorkerID     string `json:"workerId"`
	ErrorMessage string `json:"errorMessage"`
}

// handleReportFailure implements `reportFailure` (spec §4.3/§6): apply the
// failure penalty to the worker, requeue or mark FAILED per retry budget.
func (s *Server) handleReportFailure(w http.ResponseWriter, r *http.Request) {
	var req reportFailureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	job, err := s.reg.GetJob(req.JobID)
	if err != nil {
		writeError(w, apierr.New(apierr.NotFound, "job "+req.JobID))
		return
	}
	if job.AssignedWorkerID != req.WorkerID {
		writeError(w, apierr.New(apierr.JobNotOwned, "job "+req.JobID+" not assigned to "+req.WorkerID))
		return
	}

	worker, err := s.reg.GetWorker(req.WorkerID)
	if err != nil {
		writeError(w, apierr.New(apierr.WorkerUnknown, "worker "+req.WorkerID))
		return
	}

	if job.Attempts+1 > job.MaxRetries {
		if err := s.sched.ReleaseJobLocked(worker, job, types.JobFailed, req.ErrorMessage, false); err != nil {
			writeError(w, err)
			return
		}
	} else {
		if err := s.sched.ReleaseJobLocked(worker, job, "", req.ErrorMessage, true); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.sched.ApplyFailurePenalty(worker, req.ErrorMessage); err != nil {
		writeError(w, err)
		return
	}
	if err := s.reg.PutJob(job); err != nil {
		writeError(w, err)
		return
	}
	s.sched.Trigger()
	if s.broker != nil {
		s.broker.Publish(&events.Event{Type: events.EventJobFailed, JobID: job.ID, WorkerID: req.WorkerID, Message: req.ErrorMessage})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "jobId": job.ID})
}

// handleJobStatus implements `getJobStatus` (spec §4.3/§6): cache-first read,
// falling back to the full authoritative record on a cache miss.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("jobId")
	if id == "" {
		writeError(w, apierr.New(apierr.BadRequest, "jobId is required"))
		return
	}
	status, err := s.reg.CachedJobStatus(id)
	if err != nil {
		writeError(w, apierr.New(apierr.NotFound, "job "+id))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type cancelJobRequest struct {
	JobID string `json:"jobId"`
}

// handleCancelJob implements `cancelJob` (spec §4.3/§6/§8). Terminal jobs are
// a no-op returning success (spec §7).
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var req cancelJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	job, err := s.reg.GetJob(req.JobID)
	if err != nil {
		writeError(w, apierr.New(apierr.NotFound, "job "+req.JobID))
		return
	}

	switch {
	case job.Status.IsTerminal():
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "job already terminal"})
		return

	case job.Status == types.JobRunning:
		job.CancelRequested = true
		if err := s.reg.PutJob(job); err != nil {
			writeError(w, err)
			return
		}
		s.reg.CacheCancelFlag(job.ID, true)
		s.sched.Trigger()
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "cancellation requested"})
		return

	default: // QUEUED or ASSIGNED
		if job.AssignedWorkerID != "" {
			worker, werr := s.reg.GetWorker(job.AssignedWorkerID)
			if werr == nil {
				if err := s.sched.ReleaseJobLocked(worker, job, types.JobCancelled, "Job cancelled by user", false); err != nil {
					writeError(w, err)
					return
				}
				if err := s.reg.PutWorker(worker); err != nil {
					writeError(w, err)
					return
				}
			} else {
				job.Status = types.JobCancelled
				job.CompletedAt = types.NowMs()
				job.ErrorMessage = "Job cancelled by user"
			}
		} else {
			job.Status = types.JobCancelled
			job.CompletedAt = types.NowMs()
			job.ErrorMessage = "Job cancelled by user"
		}
		if err := s.reg.PutJob(job); err != nil {
			writeError(w, err)
			return
		}
		s.sched.Trigger()
		if s.broker != nil {
			s.broker.Publish(&events.Event{Type: events.EventJobCancelled, JobID: job.ID})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "job cancelled"})
	}
}

// handleCheckCancel implements `checkCancel` (spec §4.3/§6).
func (s *Server) handleCheckCancel(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("jobId")
	if id == "" {
		writeError(w, apierr.New(apierr.BadRequest, "jobId is required"))
		return
	}
	cancelled, err := s.reg.CachedCancelFlag(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "cancelRequested": cancelled})
}

// handleListJobs implements `listJobs` (spec §4.3/§6).
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.reg.ListJobs(types.JobFilter{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}
