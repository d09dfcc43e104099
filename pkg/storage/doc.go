/*
Package storage provides the authoritative, BoltDB-backed tier for job and
worker state. It is the source of truth the registry layer reads/writes
through; the Redis-backed cache package is a fast, lossy projection of this
data, never the other way around.

# Layout

BoltStore keeps two top-level buckets, "jobs" and "workers", each keyed by
record ID with a JSON-encoded value:

	dispatch.db
	├── jobs     jobId    -> json(types.Job)
	└── workers  workerId -> json(types.Worker)

Every read goes through a single bolt.View transaction; every write through a
single bolt.Update transaction. There is no secondary indexing — ListJobs and
ListWorkers scan the bucket and apply the caller's types.JobFilter /
types.WorkerFilter in-process via Match. This is the right tradeoff for a
single dispatcher process: the working set is small enough that a full scan
plus in-memory filter is simpler and fast enough, and it keeps BoltStore's
schema identical to the Go struct it serializes.

# Errors

GetJob/GetWorker wrap ErrNotFound (via %w) when the key is absent, so callers
use errors.Is(err, storage.ErrNotFound) rather than matching bbolt internals.
The registry layer translates this into an apierr.NotFound at its boundary.

# Usage

	store, err := storage.NewBoltStore("/var/lib/dispatch-core")
	defer store.Close()

	job := &types.Job{ID: "job-1", Command: "echo hi", Status: types.JobQueued}
	store.PutJob(job)

	got, err := store.GetJob("job-1")

	running, err := store.ListJobs(types.JobFilter{Status: []types.JobStatus{types.JobRunning}})

# Integration Points

  - pkg/registry: the only caller of this package; wraps it with the cache tier
  - pkg/scheduler, pkg/dispatcher: never touch storage directly, only through registry
*/
package storage
