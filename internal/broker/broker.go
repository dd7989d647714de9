// Package broker abstracts the durable queue and small key-value store the
// job-execution core sits on (spec §4.1). Backend is implemented by
// internal/broker/redisbackend (the default, production backend) and
// internal/broker/sqlitebackend (an embedded alternative for single-node
// deployments and tests that want a real durable store without a Redis
// dependency).
package broker

import (
	"context"
	"time"

	"github.com/insightqueue/insightqueue/internal/queue"
)

// Backend is the contract every broker implementation satisfies. All
// methods must be safe for concurrent use by multiple worker goroutines
// and processes; the Backend is the single source of truth for job state.
type Backend interface {
	// Submit persists job with state PENDING and enqueues its id. Submit is
	// idempotent when the caller supplies job.ID: resubmitting the same id
	// is a no-op that returns the existing id.
	Submit(ctx context.Context, job queue.Job) (string, error)

	// Reserve blocks up to timeout for an eligible job. On success it moves
	// the job to RESERVED and returns a lease with an expiry. ok is false on
	// a timeout with no job available.
	Reserve(ctx context.Context, timeout time.Duration) (job queue.Job, lease queue.Lease, ok bool, err error)

	// Extend pushes the lease expiry forward by duration. It fails if the
	// lease has already expired and been reclaimed.
	Extend(ctx context.Context, lease queue.Lease, duration time.Duration) (queue.Lease, error)

	// PublishProgress appends an event to the job's progress stream. seq is
	// assigned server-side by monotone increment regardless of what the
	// caller sets on ev.Seq.
	PublishProgress(ctx context.Context, jobID string, ev queue.ProgressEvent) error

	// SubscribeProgress returns a channel of events with seq >= fromSeq, in
	// order, closing once a terminal event has been delivered or ctx is done.
	SubscribeProgress(ctx context.Context, jobID string, fromSeq int64) (<-chan queue.ProgressEvent, error)

	// Complete atomically sets a terminal state (SUCCEEDED or FAILED) from
	// the fields already populated on job, publishes the final progress
	// event, and releases the lease. Idempotent by lease token.
	Complete(ctx context.Context, lease queue.Lease, job queue.Job) error

	// FailAndRequeue is a transport-fault nack: it increments attempts, and
	// if the incremented count is still below max_attempts the job returns
	// to PENDING, otherwise it transitions to FAILED with reason as the
	// error message.
	FailAndRequeue(ctx context.Context, lease queue.Lease, reason string) error

	// Status performs a single-shot read of a job record.
	Status(ctx context.Context, jobID string) (queue.Job, error)

	// Cancel sets an advisory cancellation flag observable by the
	// Orchestrator at its next boundary check.
	Cancel(ctx context.Context, jobID string) error

	// Canceled reports whether Cancel has been called for jobID.
	Canceled(ctx context.Context, jobID string) (bool, error)

	// ReclaimExpired scans in-flight reservations for expired leases and
	// returns each such job to PENDING (attempts++) or FAILED if attempts
	// have been exhausted. It returns the number of jobs reclaimed. Intended
	// to be called periodically by internal/reaper.
	ReclaimExpired(ctx context.Context) (int, error)

	// Depth reports the current number of PENDING jobs, used for the
	// queue_depth gauge.
	Depth(ctx context.Context) (int, error)

	Close() error
}
