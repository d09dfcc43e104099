package storage

import (
	"github.com/cuemby/dispatch-core/pkg/types"
)

// Store is the authoritative, durable tier for Job and Worker records.
// Implemented by BoltDB-backed storage. Each operation is atomic against a
// single record; no cross-record atomicity is assumed (per spec).
type Store interface {
	GetJob(id string) (*types.Job, error)
	PutJob(job *types.Job) error
	ListJobs(filter types.JobFilter) ([]*types.Job, error)
	DeleteJob(id string) error

	GetWorker(id string) (*types.Worker, error)
	PutWorker(worker *types.Worker) error
	ListWorkers(filter types.WorkerFilter) ([]*types.Worker, error)
	DeleteWorker(id string) error

	Close() error
}

// ErrNotFound is returned by Get* when the record does not exist.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }
