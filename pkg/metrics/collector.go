package metrics

import (
	"time"

	"github.com/cuemby/dispatch-core/pkg/registry"
	"github.com/cuemby/dispatch-core/pkg/types"
)

// Collector periodically samples the registry and republishes job/worker
// counts by status as gauges, so a scrape between scheduler runs still sees
// an up-to-date picture instead of only the event-driven counters.
type Collector struct {
	reg    *registry.Registry
	stopCh chan struct{}
}

// NewCollector creates a collector over reg.
func NewCollector(reg *registry.Registry) *Collector {
	return &Collector{
		reg:    reg,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting on a fixed interval, collecting once immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectJobMetrics()
	c.collectWorkerMetrics()
}

func (c *Collector) collectJobMetrics() {
	jobs, err := c.reg.ListJobs(types.JobFilter{})
	if err != nil {
		return
	}

	counts := make(map[types.JobStatus]int)
	for _, j := range jobs {
		counts[j.Status]++
	}
	for _, status := range []types.JobStatus{
		types.JobSubmitted, types.JobQueued, types.JobAssigned, types.JobRunning,
		types.JobCompleted, types.JobFailed, types.JobCancelled,
	} {
		JobsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectWorkerMetrics() {
	workers, err := c.reg.ListWorkers(types.WorkerFilter{})
	if err != nil {
		return
	}

	counts := make(map[types.WorkerStatus]int)
	for _, w := range workers {
		counts[w.Status]++
	}
	for _, status := range []types.WorkerStatus{
		types.WorkerIdle, types.WorkerBusy, types.WorkerUnhealthy, types.WorkerOffline,
	} {
		WorkersTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
