// Package redisbackend implements broker.Backend over Redis lists, strings
// and TTL keys, generalizing the lease/heartbeat/processing-list pattern
// this codebase used for its original file-processing queue.
package redisbackend

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/insightqueue/insightqueue/internal/config"
	"github.com/insightqueue/insightqueue/internal/corerr"
	"github.com/insightqueue/insightqueue/internal/queue"
	"github.com/insightqueue/insightqueue/internal/redisclient"
)

const (
	keyPending    = "iq:pending"
	keyProcessing = "iq:processing"
)

// completeScript atomically guards Complete against two races a plain
// GET-then-SET cannot: a lease reclaimed by the reaper and reassigned to
// another worker (stale lease token), and two completions racing each
// other (first terminal write wins, observed via cjson.decode rather than
// a second round trip). KEYS[1] is the lease key, KEYS[2] the job key;
// ARGV[1] the caller's lease token, ARGV[2] the job payload to store.
var completeScript = redis.NewScript(`
local curToken = redis.call('GET', KEYS[1])
if curToken == false or curToken ~= ARGV[1] then
	return 'STALE_LEASE'
end
local stored = redis.call('GET', KEYS[2])
if stored == false then
	return 'NOT_FOUND'
end
local decoded = cjson.decode(stored)
local state = decoded['state']
if state == 'SUCCEEDED' or state == 'FAILED' or state == 'CANCELED' then
	return 'ALREADY_TERMINAL'
end
redis.call('SET', KEYS[2], ARGV[2])
return 'OK'
`)

func jobKey(id string) string      { return "iq:job:" + id }
func leaseKey(id string) string    { return "iq:lease:" + id }
func progressKey(id string) string { return "iq:progress:" + id }
func seqKey(id string) string      { return "iq:progress:seq:" + id }
func cancelKey(id string) string   { return "iq:cancel:" + id }

// Backend is the Redis-backed broker.Backend implementation.
type Backend struct {
	rdb           *redis.Client
	log           *zap.Logger
	leaseDuration time.Duration
	maxAttempts   int
}

// New constructs a Backend from a loaded Config, using redisclient to build
// a pooled connection sized off the host's CPU count.
func New(cfg *config.Config, leaseDuration time.Duration, maxAttempts int, log *zap.Logger) *Backend {
	rdb := redisclient.New(cfg)
	return &Backend{rdb: rdb, log: log, leaseDuration: leaseDuration, maxAttempts: maxAttempts}
}

// NewWithClient wraps an already-constructed client, used by tests against
// miniredis and by callers that want custom pool settings.
func NewWithClient(rdb *redis.Client, leaseDuration time.Duration, maxAttempts int, log *zap.Logger) *Backend {
	return &Backend{rdb: rdb, log: log, leaseDuration: leaseDuration, maxAttempts: maxAttempts}
}

// withRetry runs fn, retrying transient connectivity faults (not redis.Nil,
// which is a legitimate "no result" outcome) with exponential backoff and
// jitter before surfacing a BrokerError.
func (b *Backend) withRetry(ctx context.Context, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 5 * time.Second
	var lastErr error
	op := func() error {
		err := fn()
		if err == nil || err == redis.Nil {
			lastErr = err
			return nil
		}
		lastErr = err
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return corerr.Wrap(corerr.BrokerError, "redis operation failed after retries", err)
	}
	return lastErr
}

func (b *Backend) Submit(ctx context.Context, job queue.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := job.Marshal()
	if err != nil {
		return "", corerr.Wrap(corerr.InputRejected, "marshal job", err)
	}

	var created bool
	err = b.withRetry(ctx, func() error {
		var e error
		created, e = b.rdb.SetNX(ctx, jobKey(job.ID), payload, 0).Result()
		return e
	})
	if err != nil {
		return "", err
	}
	if !created {
		// Idempotent resubmission under the caller-supplied id.
		return job.ID, nil
	}
	if err := b.withRetry(ctx, func() error {
		return b.rdb.LPush(ctx, keyPending, job.ID).Err()
	}); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (b *Backend) Reserve(ctx context.Context, timeout time.Duration) (queue.Job, queue.Lease, bool, error) {
	var id string
	err := b.withRetry(ctx, func() error {
		v, e := b.rdb.BRPopLPush(ctx, keyPending, keyProcessing, timeout).Result()
		if e == redis.Nil {
			id = ""
			return nil
		}
		if e != nil {
			return e
		}
		id = v
		return nil
	})
	if err != nil {
		return queue.Job{}, queue.Lease{}, false, err
	}
	if id == "" {
		return queue.Job{}, queue.Lease{}, false, nil
	}

	job, err := b.loadJob(ctx, id)
	if err != nil {
		return queue.Job{}, queue.Lease{}, false, err
	}
	job.State = queue.Reserved

	token := uuid.NewString()
	expires := time.Now().Add(b.leaseDuration)
	if err := b.withRetry(ctx, func() error {
		return b.rdb.Set(ctx, leaseKey(id), token, b.leaseDuration).Err()
	}); err != nil {
		return queue.Job{}, queue.Lease{}, false, err
	}
	if err := b.storeJob(ctx, job); err != nil {
		return queue.Job{}, queue.Lease{}, false, err
	}

	return job, queue.Lease{JobID: id, Token: token, Expires: expires}, true, nil
}

func (b *Backend) Extend(ctx context.Context, lease queue.Lease, duration time.Duration) (queue.Lease, error) {
	var cur string
	if err := b.withRetry(ctx, func() error {
		v, e := b.rdb.Get(ctx, leaseKey(lease.JobID)).Result()
		if e == redis.Nil {
			cur = ""
			return nil
		}
		cur = v
		return e
	}); err != nil {
		return queue.Lease{}, err
	}
	if cur == "" || cur != lease.Token {
		return queue.Lease{}, corerr.New(corerr.BrokerError, "lease already expired and reclaimed")
	}
	if err := b.withRetry(ctx, func() error {
		return b.rdb.Expire(ctx, leaseKey(lease.JobID), duration).Err()
	}); err != nil {
		return queue.Lease{}, err
	}
	lease.Expires = time.Now().Add(duration)
	return lease, nil
}

func (b *Backend) PublishProgress(ctx context.Context, jobID string, ev queue.ProgressEvent) error {
	var seq int64
	if err := b.withRetry(ctx, func() error {
		v, e := b.rdb.Incr(ctx, seqKey(jobID)).Result()
		seq = v
		return e
	}); err != nil {
		return err
	}
	ev.Seq = seq
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := ev.Marshal()
	if err != nil {
		return corerr.Wrap(corerr.BrokerError, "marshal progress event", err)
	}
	return b.withRetry(ctx, func() error {
		return b.rdb.RPush(ctx, progressKey(jobID), payload).Err()
	})
}

func (b *Backend) SubscribeProgress(ctx context.Context, jobID string, fromSeq int64) (<-chan queue.ProgressEvent, error) {
	out := make(chan queue.ProgressEvent, 16)
	go func() {
		defer close(out)
		sent := fromSeq - 1
		if sent < 0 {
			sent = 0
		}
		ticker := time.NewTicker(150 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			vals, err := b.rdb.LRange(ctx, progressKey(jobID), sent, -1).Result()
			if err != nil {
				continue
			}
			for _, v := range vals {
				ev, err := queue.UnmarshalProgressEvent(v)
				if err != nil {
					continue
				}
				sent++
				if ev.Seq < fromSeq {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Phase.Terminal() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Backend) Complete(ctx context.Context, lease queue.Lease, job queue.Job) error {
	stored, err := b.loadJob(ctx, lease.JobID)
	if err != nil {
		return err
	}
	stored.State = job.State
	stored.Result = job.Result
	stored.Error = job.Error
	payload, err := stored.Marshal()
	if err != nil {
		return corerr.Wrap(corerr.BrokerError, "marshal job", err)
	}

	var outcome string
	if err := b.withRetry(ctx, func() error {
		v, e := completeScript.Run(ctx, b.rdb, []string{leaseKey(lease.JobID), jobKey(lease.JobID)}, lease.Token, payload).Result()
		if e != nil {
			return e
		}
		outcome, _ = v.(string)
		return nil
	}); err != nil {
		return corerr.Wrap(corerr.BrokerError, "complete job", err)
	}

	switch outcome {
	case "STALE_LEASE":
		return corerr.New(corerr.BrokerError, "lease token stale; job was reclaimed by another worker")
	case "NOT_FOUND":
		return corerr.New(corerr.NotFound, "job "+lease.JobID+" not found")
	case "ALREADY_TERMINAL":
		return nil // idempotent: a valid-lease completion already won this race
	}

	phase := queue.PhaseCompleted
	detail := stored.Result
	if stored.State == queue.Failed && stored.Error != nil {
		phase = queue.PhaseFailed
		detail = fmt.Sprintf("%s: %s", stored.Error.Kind, stored.Error.Message)
	}
	if err := b.PublishProgress(ctx, lease.JobID, queue.ProgressEvent{Phase: phase, Detail: detail}); err != nil {
		b.log.Warn("publish terminal progress failed", zap.Error(err))
	}

	_ = b.withRetry(ctx, func() error { return b.rdb.LRem(ctx, keyProcessing, 1, lease.JobID).Err() })
	_ = b.withRetry(ctx, func() error { return b.rdb.Del(ctx, leaseKey(lease.JobID)).Err() })
	return nil
}

func (b *Backend) FailAndRequeue(ctx context.Context, lease queue.Lease, reason string) error {
	stored, err := b.loadJob(ctx, lease.JobID)
	if err != nil {
		return err
	}
	if stored.State.Terminal() {
		return nil
	}
	stored.Attempts++

	if stored.Attempts >= b.maxAttempts {
		stored.State = queue.Failed
		stored.Error = &queue.JobError{Kind: string(corerr.BrokerError), Message: reason}
		if err := b.storeJob(ctx, stored); err != nil {
			return err
		}
		_ = b.PublishProgress(ctx, lease.JobID, queue.ProgressEvent{Phase: queue.PhaseFailed, Detail: reason})
	} else {
		stored.State = queue.Pending
		if err := b.storeJob(ctx, stored); err != nil {
			return err
		}
		if err := b.withRetry(ctx, func() error { return b.rdb.LPush(ctx, keyPending, lease.JobID).Err() }); err != nil {
			return err
		}
		_ = b.PublishProgress(ctx, lease.JobID, queue.ProgressEvent{Phase: queue.PhaseQueued, Detail: "requeued: " + reason})
	}

	_ = b.withRetry(ctx, func() error { return b.rdb.LRem(ctx, keyProcessing, 1, lease.JobID).Err() })
	_ = b.withRetry(ctx, func() error { return b.rdb.Del(ctx, leaseKey(lease.JobID)).Err() })
	return nil
}

func (b *Backend) Status(ctx context.Context, jobID string) (queue.Job, error) {
	return b.loadJob(ctx, jobID)
}

func (b *Backend) Cancel(ctx context.Context, jobID string) error {
	return b.withRetry(ctx, func() error {
		return b.rdb.Set(ctx, cancelKey(jobID), "1", 0).Err()
	})
}

func (b *Backend) Canceled(ctx context.Context, jobID string) (bool, error) {
	var n int64
	if err := b.withRetry(ctx, func() error {
		v, e := b.rdb.Exists(ctx, cancelKey(jobID)).Result()
		n = v
		return e
	}); err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReclaimExpired scans the processing list for jobs whose lease key has
// expired and returns them to PENDING (or FAILED, once attempts exhausted).
func (b *Backend) ReclaimExpired(ctx context.Context) (int, error) {
	ids, err := b.rdb.LRange(ctx, keyProcessing, 0, -1).Result()
	if err != nil {
		return 0, corerr.Wrap(corerr.BrokerError, "scan processing list", err)
	}
	reclaimed := 0
	for _, id := range ids {
		exists, err := b.rdb.Exists(ctx, leaseKey(id)).Result()
		if err != nil {
			continue
		}
		if exists == 1 {
			continue // worker still holds a live lease
		}
		if err := b.FailAndRequeue(ctx, queue.Lease{JobID: id}, "lease expired"); err != nil {
			b.log.Warn("reclaim failed", zap.String("job_id", id), zap.Error(err))
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (b *Backend) Depth(ctx context.Context) (int, error) {
	n, err := b.rdb.LLen(ctx, keyPending).Result()
	if err != nil {
		return 0, corerr.Wrap(corerr.BrokerError, "llen pending", err)
	}
	return int(n), nil
}

func (b *Backend) Close() error {
	return b.rdb.Close()
}

func (b *Backend) loadJob(ctx context.Context, id string) (queue.Job, error) {
	var payload string
	if err := b.withRetry(ctx, func() error {
		v, e := b.rdb.Get(ctx, jobKey(id)).Result()
		if e == redis.Nil {
			payload = ""
			return nil
		}
		payload = v
		return e
	}); err != nil {
		return queue.Job{}, err
	}
	if payload == "" {
		return queue.Job{}, corerr.New(corerr.NotFound, "job "+id+" not found")
	}
	return queue.UnmarshalJob(payload)
}

func (b *Backend) storeJob(ctx context.Context, job queue.Job) error {
	payload, err := job.Marshal()
	if err != nil {
		return corerr.Wrap(corerr.BrokerError, "marshal job", err)
	}
	return b.withRetry(ctx, func() error {
		return b.rdb.Set(ctx, jobKey(job.ID), payload, 0).Err()
	})
}
