package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry-level metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_workers_total",
			Help: "Total number of workers by status",
		},
		[]string{"status"},
	)

	// Dispatcher API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_api_requests_total",
			Help: "Total number of dispatcher API requests by path and status",
		},
		[]string{"path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_api_request_duration_seconds",
			Help:    "Dispatcher API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"principal"},
	)

	// Scheduler metrics
	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_scheduler_tick_duration_seconds",
			Help:    "Time taken for one scheduler run (all three phases) in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulerTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_scheduler_ticks_total",
			Help: "Total number of completed scheduler runs",
		},
	)

	JobsAssignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_assigned_total",
			Help: "Total number of jobs assigned to a worker",
		},
	)

	JobsReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_reclaimed_total",
			Help: "Total number of RUNNING jobs reclaimed on timeout",
		},
	)

	WorkersOfflineTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_workers_offline_total",
			Help: "Total number of times a worker was marked OFFLINE on missed heartbeat",
		},
	)

	WorkerCooldownsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_worker_cooldowns_total",
			Help: "Total number of failure-penalty cooldowns applied to workers",
		},
	)

	// Sandbox metrics (registered here; nothing in pkg/worker or pkg/sandbox
	// records them, and the worker agent serves no /metrics endpoint)
	SandboxLaunchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_sandbox_launch_duration_seconds",
			Help:    "Time taken to launch a sandbox container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SandboxRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_sandbox_runs_total",
			Help: "Total number of sandbox command runs by outcome",
		},
		[]string{"outcome"}, // ok, nonzero, timeout, cancelled, launch_failed
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(SchedulerTickDuration)
	prometheus.MustRegister(SchedulerTicksTotal)
	prometheus.MustRegister(JobsAssignedTotal)
	prometheus.MustRegister(JobsReclaimedTotal)
	prometheus.MustRegister(WorkersOfflineTotal)
	prometheus.MustRegister(WorkerCooldownsTotal)
	prometheus.MustRegister(SandboxLaunchDuration)
	prometheus.MustRegister(SandboxRunsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
