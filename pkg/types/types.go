package types

import "time"

// Job represents one unit of work through its entire lifecycle.
type Job struct {
	ID         string `json:"jobId"`
	Command    string `json:"command"`
	BundleRef  string `json:"bundleRef"`
	BundleName string `json:"bundleName"`

	RequiredCPU   float64 `json:"requiredCpu"`
	RequiredRamMb int64   `json:"requiredRamMb"`
	TimeoutMs     int64   `json:"timeoutMs"`
	MaxRetries    int     `json:"maxRetries"`
	Attempts      int     `json:"attempts"`

	Status           JobStatus `json:"status"`
	AssignedWorkerID string    `json:"assignedWorkerId,omitempty"`
	CancelRequested  bool      `json:"cancelRequested"`

	Stdout       string `json:"stdout"`
	Stderr       string `json:"stderr"`
	ExitCode     *int   `json:"exitCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ResultRef    string `json:"resultRef,omitempty"`

	Labels map[string]string `json:"labels,omitempty"`

	CreatedAt      int64 `json:"createdAt"`
	QueuedAt       int64 `json:"queuedAt"`
	AssignedAt     int64 `json:"assignedAt,omitempty"`
	StartedAt      int64 `json:"startedAt,omitempty"`
	CompletedAt    int64 `json:"completedAt,omitempty"`
	LastStreamedAt int64 `json:"lastStreamedAt,omitempty"`
}

// JobStatus is the job's lifecycle state.
type JobStatus string

const (
	JobSubmitted JobStatus = "SUBMITTED"
	JobQueued    JobStatus = "QUEUED"
	JobAssigned  JobStatus = "ASSIGNED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the status will never transition again, absent
// the explicit retry path (which re-enters QUEUED rather than staying FAILED).
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// NowMs returns the current time in milliseconds since epoch, the unit used
// by every Job/Worker timestamp field.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// Worker represents a connected agent.
type Worker struct {
	ID       string `json:"workerId"`
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Version  string `json:"version"`

	CPUCount   float64 `json:"cpuCount"`
	CPUUsage   float64 `json:"cpuUsage"`
	RamTotalMb int64   `json:"ramTotalMb"`
	RamFreeMb  int64   `json:"ramFreeMb"`

	Status        WorkerStatus `json:"status"`
	CurrentJobIDs []string     `json:"currentJobIds"`

	ReservedCPU   float64 `json:"reservedCpu"`
	ReservedRamMb int64   `json:"reservedRamMb"`

	CooldownUntil int64  `json:"cooldownUntil,omitempty"`
	HealthReason  string `json:"healthReason,omitempty"`

	Labels map[string]string `json:"labels,omitempty"`

	LastHeartbeat int64 `json:"lastHeartbeat"`
	CreatedAt     int64 `json:"createdAt"`
	UpdatedAt     int64 `json:"updatedAt"`
}

// WorkerStatus is the worker's health/availability state.
type WorkerStatus string

const (
	WorkerIdle      WorkerStatus = "IDLE"
	WorkerBusy      WorkerStatus = "BUSY"
	WorkerUnhealthy WorkerStatus = "UNHEALTHY"
	WorkerOffline   WorkerStatus = "OFFLINE"
)

// HasJob reports whether jobID is in the worker's current job set.
func (w *Worker) HasJob(jobID string) bool {
	for _, id := range w.CurrentJobIDs {
		if id == jobID {
			return true
		}
	}
	return false
}

// RemoveJob removes jobID from the worker's current job set, if present.
func (w *Worker) RemoveJob(jobID string) {
	out := w.CurrentJobIDs[:0]
	for _, id := range w.CurrentJobIDs {
		if id != jobID {
			out = append(out, id)
		}
	}
	w.CurrentJobIDs = out
}

// CachedJobStatus is the fast-tier projection of a Job used by getJobStatus.
type CachedJobStatus struct {
	ID               string    `json:"jobId"`
	Status           JobStatus `json:"status"`
	ExitCode         *int      `json:"exitCode,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	AssignedWorkerID string    `json:"assignedWorkerId,omitempty"`
	Attempts         int       `json:"attempts"`
	CreatedAt        int64     `json:"createdAt"`
	QueuedAt         int64     `json:"queuedAt"`
	AssignedAt       int64     `json:"assignedAt,omitempty"`
	StartedAt        int64     `json:"startedAt,omitempty"`
	CompletedAt      int64     `json:"completedAt,omitempty"`
}

// JobFilter narrows listJobs results. A zero-value Filter matches everything.
type JobFilter struct {
	Status           []JobStatus
	AssignedWorkerID string
}

// Match reports whether j satisfies the filter.
func (f JobFilter) Match(j *Job) bool {
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if j.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AssignedWorkerID != "" && j.AssignedWorkerID != f.AssignedWorkerID {
		return false
	}
	return true
}

// WorkerFilter narrows listWorkers results. A zero-value Filter matches
// everything.
type WorkerFilter struct {
	Status []WorkerStatus
}

// Match reports whether w satisfies the filter.
func (f WorkerFilter) Match(w *Worker) bool {
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if w.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
