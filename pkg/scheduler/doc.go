/*
Package scheduler implements the single logical actor that converges the
dispatch platform toward "every fitting queued job is assigned; every
unhealthy or timed-out condition is resolved."

# Architecture

The scheduler runs its three phases under one exclusive section, either on a
fixed tick or in response to an explicit Trigger():

	┌────────────────────────────────────────────────────────────┐
	│                    Scheduler run                            │
	│            (every tick, or on Trigger())                    │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│ Phase A  health refresh                                      │
	│   - workers past heartbeatTimeout go OFFLINE; their jobs      │
	│     are released without incrementing attempts and either   │
	│     requeued or, past their retry budget, marked FAILED      │
	│   - workers still inside an active cooldown stay UNHEALTHY   │
	│   - workers that recover (heartbeat resumes, cooldown ends)  │
	│     return to IDLE/BUSY                                      │
	├────────────────────────────────────────────────────────────┤
	│ Phase B  timeout reclamation                                  │
	│   - RUNNING jobs past startedAt+timeoutMs are released from   │
	│     their worker and either requeued (attempts+1 <= maxRetries)│
	│     or marked FAILED                                          │
	├────────────────────────────────────────────────────────────┤
	│ Phase C  FIFO weighted-score assignment                      │
	│   - QUEUED jobs are considered oldest first                   │
	│   - for each job, every eligible worker is scored and the     │
	│     lowest score wins, ties broken by most-recent heartbeat   │
	│     then lexicographic worker id                              │
	└────────────────────────────────────────────────────────────┘

# Eligibility and scoring

A worker is eligible for a job when it is IDLE or BUSY, outside any active
cooldown, has enough unreserved CPU and RAM for the job's requirements, and
reports CPU usage at or below 90%. Eligible workers are ranked by a weighted
score (lower wins) that favors low CPU usage and low reservation pressure,
with a scarcity penalty that pushes jobs away from workers sitting right at
their resource ceiling.

# Worker failure penalty

A worker whose reported execution failure indicates the worker itself (not
the job) is unhealthy is pushed into UNHEALTHY with a cooldown window via
ApplyFailurePenalty, and every job it was running is released: requeued,
or marked FAILED when its retry budget is used up.
This runs under the scheduler's own exclusive section so it never races a
concurrent scheduling pass.

# Concurrency

All three phases, plus ApplyFailurePenalty and ReleaseJobLocked, serialize on
a single mutex. Trigger() coalesces concurrent wake-up requests onto one
trailing run via a capacity-1 channel; callers never block on it, and calling
Trigger() or RunOnce() is safe even before Start() has launched the
background run loop.
*/
package scheduler
