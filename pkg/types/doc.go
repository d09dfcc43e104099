/*
Package types defines the core data structures shared by the dispatcher and
worker agent: Job and Worker, their lifecycle statuses, and the filters used
to query them.

# Job

Job is one unit of work moving through SUBMITTED → QUEUED → ASSIGNED →
RUNNING → a terminal status (COMPLETED, FAILED, CANCELLED). A job carries
a shell command, an optional reference to an uploaded bundle, its
resource requirements (RequiredCPU, RequiredRamMb), its timeout and retry
budget, and — once it finishes — its exit code, captured stdout/stderr, and
an optional result archive reference.

JobStatus.IsTerminal reports whether a status will never transition again
outside the explicit requeue path, which re-enters QUEUED rather than
leaving a job sitting in FAILED.

CachedJobStatus is the reduced projection of a Job kept in the fast-tier
cache for getJobStatus — it omits stdout/stderr/labels, the fields a
status-checking client never needs. The worker's check-cancel path reads a
separate cached cancel flag instead.

# Worker

Worker is a connected agent: its host identity (hostname, OS, version), its
resource totals and reservations (CPUCount/RamTotalMb vs.
ReservedCPU/ReservedRamMb), its health state, and the set of job IDs it is
currently running. HasJob/RemoveJob manage that job set without needing a
map.

WorkerStatus tracks IDLE/BUSY/UNHEALTHY/OFFLINE. CooldownUntil and
HealthReason record why a worker entered UNHEALTHY and when it's eligible
to be reconsidered.

# Filters

JobFilter and WorkerFilter narrow ListJobs/ListWorkers results by status
(and, for jobs, by assigned worker). A zero-value filter matches everything;
Match is what the storage layer evaluates while scanning, and the registry
passes filters through to it unchanged.

# NowMs

NowMs returns the current time in epoch milliseconds, the unit used by every
timestamp field on Job and Worker.
*/
package types
