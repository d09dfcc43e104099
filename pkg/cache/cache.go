// Package cache implements the fast tier of the State Store (spec §2, §4.1):
// cached job status, the worker's cancel-flag probe, the fixed-window rate
// limiter (spec §5), and a named distributed lease primitive (AcquireLease/
// ReleaseLease) that the scheduler does not currently take.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/dispatch-core/pkg/types"
	"github.com/redis/go-redis/v9"
)

const (
	jobStatusTTLNonTerminal = 300 * time.Second
	jobStatusTTLTerminal    = 3600 * time.Second
	cancelFlagTTL           = 120 * time.Second
)

// ErrMiss is returned when a cache-tier read finds nothing.
var ErrMiss = errors.New("cache: miss")

// Cache wraps a Redis client with the key conventions the dispatch core uses
// for cached job status, cancel flags, rate limiting, and the scheduler
// lease.
type Cache struct {
	rdb *redis.Client
}

// New connects to addr/db. Connection is lazy; a transport error surfaces
// as the error of the first command, which the registry treats as a cache
// miss and the rate limiter as an allowed request.
func New(addr string, db int) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})}
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func jobStatusKey(jobID string) string  { return "job:status:" + jobID }
func cancelFlagKey(jobID string) string { return "job:cancel:" + jobID }
func rateLimitKey(principal string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", principal, windowStart)
}

// CacheJobStatus writes the fast-tier projection of job, with a TTL that
// depends on whether the job is terminal.
func (c *Cache) CacheJobStatus(ctx context.Context, job *types.Job) error {
	projection := types.CachedJobStatus{
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
	}
	data, err := json.Marshal(projection)
	if err != nil {
		return err
	}
	ttl := jobStatusTTLNonTerminal
	if job.Status.IsTerminal() {
		ttl = jobStatusTTLTerminal
	}
	return c.rdb.Set(ctx, jobStatusKey(job.ID), data, ttl).Err()
}

// CachedJobStatus reads the fast-tier projection for jobID, or ErrMiss.
func (c *Cache) CachedJobStatus(ctx context.Context, jobID string) (*types.CachedJobStatus, error) {
	data, err := c.rdb.Get(ctx, jobStatusKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var projection types.CachedJobStatus
	if err := json.Unmarshal(data, &projection); err != nil {
		return nil, err
	}
	return &projection, nil
}

// InvalidateJobStatus evicts the cached projection for jobID.
func (c *Cache) InvalidateJobStatus(ctx context.Context, jobID string) error {
	return c.rdb.Del(ctx, jobStatusKey(jobID)).Err()
}

// CacheCancelFlag records the cancel-requested flag for jobID with a 2s-
// granularity-friendly 120s TTL.
func (c *Cache) CacheCancelFlag(ctx context.Context, jobID string, cancelled bool) error {
	return c.rdb.Set(ctx, cancelFlagKey(jobID), cancelled, cancelFlagTTL).Err()
}

// CachedCancelFlag returns the cancel flag for jobID, or ErrMiss if unset.
func (c *Cache) CachedCancelFlag(ctx context.Context, jobID string) (bool, error) {
	v, err := c.rdb.Get(ctx, cancelFlagKey(jobID)).Bool()
	if errors.Is(err, redis.Nil) {
		return false, ErrMiss
	}
	return v, err
}

// AllowRequest implements the fixed-window rate limiter of spec §5: at most
// max requests per principal within a windowMs-wide window. Returns the
// number of requests already counted in the current window.
func (c *Cache) AllowRequest(ctx context.Context, principal string, windowMs int64, max int) (allowed bool, count int64, err error) {
	windowStart := time.Now().UnixMilli() / windowMs
	key := rateLimitKey(principal, windowStart)

	count, err = c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		c.rdb.Expire(ctx, key, time.Duration(windowMs)*time.Millisecond)
	}
	return count <= int64(max), count, nil
}

// AcquireLease attempts to take the named distributed lease (e.g.
// "scheduler:lock") for ttl, returning true if acquired. The Scheduler does
// not call it: its exclusive section is a process-local mutex, so scheduler
// runs in separate dispatcher replicas are not mutually excluded.
func (c *Cache) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lease:"+name, holder, ttl).Result()
}

// ReleaseLease releases the named lease if still held by holder.
func (c *Cache) ReleaseLease(ctx context.Context, name, holder string) error {
	val, err := c.rdb.Get(ctx, "lease:"+name).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if val != holder {
		return nil
	}
	return c.rdb.Del(ctx, "lease:"+name).Err()
}
