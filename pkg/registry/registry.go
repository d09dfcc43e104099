// Package registry is the in-process typed view over the State Store (spec
// §2, §4.1): durable get/set/list for Job and Worker records, backed by an
// authoritative storage.Store and fronted by a cache.Cache fast tier.
package registry

import (
	"context"

	"github.com/cuemby/dispatch-core/pkg/apierr"
	"github.com/cuemby/dispatch-core/pkg/cache"
	"github.com/cuemby/dispatch-core/pkg/log"
	"github.com/cuemby/dispatch-core/pkg/storage"
	"github.com/cuemby/dispatch-core/pkg/types"
)

// Registry is the exclusive owner of Job and Worker records (spec §3,
// "Ownership"). Handlers and the Scheduler borrow records for the duration
// of one operation through it.
type Registry struct {
	store storage.Store
	cache *cache.Cache
}

// New constructs a Registry over the given authoritative store and optional
// cache tier (nil disables the fast tier; reads fall through to store).
func New(store storage.Store, c *cache.Cache) *Registry {
	return &Registry{store: store, cache: c}
}

// GetJob returns the job with the given id, or a NotFound apierr.
func (r *Registry) GetJob(id string) (*types.Job, error) {
	job, err := r.store.GetJob(id)
	if err != nil {
		return nil, apierr.Wrap(apierr.NotFound, "job "+id, err)
	}
	return job, nil
}

// PutJob writes job to the authoritative tier then refreshes the cache-tier
// status projection. A cache write failure is logged, not surfaced — the
// authoritative write already succeeded (spec §4.1: "never silently discards
// writes").
func (r *Registry) PutJob(job *types.Job) error {
	if err := r.store.PutJob(job); err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "put job "+job.ID, err)
	}
	if r.cache != nil {
		if err := r.cache.CacheJobStatus(context.Background(), job); err != nil {
			log.WithComponent("registry").Warn().Err(err).Str("job_id", job.ID).Msg("cache refresh failed")
		}
	}
	return nil
}

// ListJobs returns every job matching filter, from the authoritative tier.
func (r *Registry) ListJobs(filter types.JobFilter) ([]*types.Job, error) {
	jobs, err := r.store.ListJobs(filter)
	if err != nil {
		return nil, apierr.Wrap(apierr.StoreUnavailable, "list jobs", err)
	}
	return jobs, nil
}

// CacheJobStatus refreshes only the fast-tier projection, without writing
// the authoritative record; used by CachedJobStatus to repopulate after a
// miss and by WarmCache.
func (r *Registry) CacheJobStatus(job *types.Job) {
	if r.cache == nil {
		return
	}
	if err := r.cache.CacheJobStatus(context.Background(), job); err != nil {
		log.WithComponent("registry").Warn().Err(err).Str("job_id", job.ID).Msg("cache refresh failed")
	}
}

// CachedJobStatus returns the fast-tier projection if present, falling back
// to the authoritative tier (and populating the cache) on a miss.
func (r *Registry) CachedJobStatus(id string) (*types.CachedJobStatus, error) {
	if r.cache != nil {
		if projection, err := r.cache.CachedJobStatus(context.Background(), id); err == nil {
			return projection, nil
		}
	}
	job, err := r.GetJob(id)
	if err != nil {
		return nil, err
	}
	r.CacheJobStatus(job)
	return &types.CachedJobStatus{
		ID:               job.ID,
		Status:           job.Status,
		ExitCode:         job.ExitCode,
		ErrorMessage:     job.ErrorMessage,
		AssignedWorkerID: job.AssignedWorkerID,
		Attempts:         job.Attempts,
		CreatedAt:        job.CreatedAt,
		QueuedAt:         job.QueuedAt,
		AssignedAt:       job.AssignedAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
	}, nil
}

// CacheCancelFlag refreshes the fast boolean a worker's checkCancel probes.
func (r *Registry) CacheCancelFlag(jobID string, cancelled bool) {
	if r.cache == nil {
		return
	}
	if err := r.cache.CacheCancelFlag(context.Background(), jobID, cancelled); err != nil {
		log.WithComponent("registry").Warn().Err(err).Str("job_id", jobID).Msg("cancel flag cache refresh failed")
	}
}

// CachedCancelFlag returns the cancel flag for jobID, falling back to the
// authoritative job record on a cache miss.
func (r *Registry) CachedCancelFlag(id string) (bool, error) {
	if r.cache != nil {
		if v, err := r.cache.CachedCancelFlag(context.Background(), id); err == nil {
			return v, nil
		}
	}
	job, err := r.GetJob(id)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// GetWorker returns the worker with the given id, or a NotFound apierr.
func (r *Registry) GetWorker(id string) (*types.Worker, error) {
	worker, err := r.store.GetWorker(id)
	if err != nil {
		return nil, apierr.Wrap(apierr.NotFound, "worker "+id, err)
	}
	return worker, nil
}

// PutWorker upserts a worker record in the authoritative tier.
func (r *Registry) PutWorker(worker *types.Worker) error {
	if err := r.store.PutWorker(worker); err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "put worker "+worker.ID, err)
	}
	return nil
}

// ListWorkers returns every worker matching filter.
func (r *Registry) ListWorkers(filter types.WorkerFilter) ([]*types.Worker, error) {
	workers, err := r.store.ListWorkers(filter)
	if err != nil {
		return nil, apierr.Wrap(apierr.StoreUnavailable, "list workers", err)
	}
	return workers, nil
}

// DeleteWorker removes a worker record outright (admin operation).
func (r *Registry) DeleteWorker(id string) error {
	if err := r.store.DeleteWorker(id); err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "delete worker "+id, err)
	}
	return nil
}

// Snapshot is a JSON-serializable dump of every Job and Worker, used for
// cold-start cache warming and operator state dumps.
type Snapshot struct {
	Jobs    []*types.Job    `json:"jobs"`
	Workers []*types.Worker `json:"workers"`
}

// MakeSnapshot reads every Job and Worker from the authoritative tier.
func (r *Registry) MakeSnapshot() (*Snapshot, error) {
	jobs, err := r.ListJobs(types.JobFilter{})
	if err != nil {
		return nil, err
	}
	workers, err := r.ListWorkers(types.WorkerFilter{})
	if err != nil {
		return nil, err
	}
	return &Snapshot{Jobs: jobs, Workers: workers}, nil
}

// WarmCache populates the fast tier from a snapshot, used on dispatcher
// startup so the first wave of status polls does not all miss.
func (r *Registry) WarmCache(snap *Snapshot) {
	if r.cache == nil {
		return
	}
	for _, job := range snap.Jobs {
		r.CacheJobStatus(job)
		r.CacheCancelFlag(job.ID, job.CancelRequested)
	}
}
