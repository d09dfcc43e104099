/*
Package metrics provides Prometheus metrics collection and exposition for the
dispatch platform.

The package defines and registers every metric using the Prometheus client
library, giving observability into job/worker counts, scheduler behavior,
dispatcher API traffic, and sandbox execution outcomes. Metrics are exposed
over HTTP for scraping by Prometheus.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                 │          │
	│  │  - Global DefaultRegistry                    │          │
	│  │  - MustRegister at package init              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                               │          │
	│  │  Registry:   jobs/workers by status (gauge)  │          │
	│  │  API:        request count, duration          │          │
	│  │  Scheduler:  tick duration, assigned/reclaimed │          │
	│  │  Sandbox:    launch duration, run outcomes     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint                │          │
	│  │  - Path: /metrics                            │          │
	│  │  - Handler: promhttp.Handler()               │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Registry Metrics:

dispatch_jobs_total{status}:
  - Type: Gauge
  - Description: Total jobs by status, republished every 15s by Collector
  - Labels: status (SUBMITTED, QUEUED, ASSIGNED, RUNNING, COMPLETED, FAILED, CANCELLED)

dispatch_workers_total{status}:
  - Type: Gauge
  - Description: Total workers by status
  - Labels: status (IDLE, BUSY, UNHEALTHY, OFFLINE)

Dispatcher API Metrics:

dispatch_api_requests_total{path, status}:
  - Type: Counter
  - Description: Total dispatcher API requests by path and HTTP status

dispatch_api_request_duration_seconds{path}:
  - Type: Histogram
  - Description: Dispatcher API request duration

dispatch_rate_limited_total{principal}:
  - Type: Counter
  - Description: Total requests rejected by the rate limiter

Scheduler Metrics:

dispatch_scheduler_tick_duration_seconds:
  - Type: Histogram
  - Description: Time taken for one scheduler run (all three phases)

dispatch_scheduler_ticks_total:
  - Type: Counter
  - Description: Total completed scheduler runs

dispatch_jobs_assigned_total:
  - Type: Counter
  - Description: Total jobs assigned to a worker

dispatch_jobs_reclaimed_total:
  - Type: Counter
  - Description: Total RUNNING jobs reclaimed on timeout

dispatch_workers_offline_total:
  - Type: Counter
  - Description: Total times a worker was marked OFFLINE on missed heartbeat

dispatch_worker_cooldowns_total:
  - Type: Counter
  - Description: Total failure-penalty cooldowns applied to workers

Sandbox Metrics (defined and registered with the default registry; no code
in pkg/worker or pkg/sandbox records them, and the worker agent serves no
/metrics endpoint):

dispatch_sandbox_launch_duration_seconds:
  - Type: Histogram
  - Description: Time taken to launch a sandbox container

dispatch_sandbox_runs_total{outcome}:
  - Type: Counter
  - Description: Total sandbox command runs by outcome
  - Labels: outcome (ok, nonzero, timeout, cancelled, launch_failed)

# Usage

	import "github.com/cuemby/dispatch-core/pkg/metrics"

	// Gauges
	metrics.JobsTotal.WithLabelValues("RUNNING").Set(3)
	metrics.WorkersTotal.WithLabelValues("IDLE").Set(2)

	// Counters
	metrics.JobsAssignedTotal.Inc()
	metrics.APIRequestsTotal.WithLabelValues("/jobs/create", "200").Inc()

	// Histograms via the Timer helper
	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.SchedulerTickDuration)

Exposing the endpoint:

	http.Handle("/metrics", metrics.Handler())

# Collector

Collector polls the registry on a fixed interval and republishes job/worker
counts by status, so a scrape landing between scheduler runs still reflects
current state rather than only the event-driven counters the scheduler and
dispatcher increment directly.

# Integration Points

  - pkg/scheduler: records tick duration, assignment/reclamation/cooldown counters
  - pkg/dispatcher: records API request counts/duration and rate-limit rejections
  - cmd/dispatcherd: runs Collector alongside the scheduler

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
