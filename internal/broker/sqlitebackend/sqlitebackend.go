// Package sqlitebackend implements broker.Backend over a single embedded
// SQLite database, for single-node deployments that would rather not run a
// Redis instance. It satisfies the same at-least-once delivery and lease
// semantics as redisbackend; reservation uses an atomic UPDATE...RETURNING
// in place of Redis's BRPOPLPUSH.
package sqlitebackend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/insightqueue/insightqueue/internal/corerr"
	"github.com/insightqueue/insightqueue/internal/queue"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	state TEXT NOT NULL,
	lease_token TEXT,
	lease_expires_at INTEGER,
	ord INTEGER
);
CREATE TABLE IF NOT EXISTS progress (
	job_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	payload TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cancellations (
	job_id TEXT PRIMARY KEY
);
`

// Backend is the SQLite-backed broker.Backend implementation.
type Backend struct {
	db            *sql.DB
	leaseDuration time.Duration
	maxAttempts   int
	ordCounter    int64
}

// New opens (and migrates) the SQLite database at path.
func New(path string, leaseDuration time.Duration, maxAttempts int) (*Backend, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, corerr.Wrap(corerr.BrokerError, "open sqlite database", err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer; avoid SQLITE_BUSY storms
	if _, err := db.Exec(schema); err != nil {
		return nil, corerr.Wrap(corerr.BrokerError, "migrate sqlite schema", err)
	}
	return &Backend{db: db, leaseDuration: leaseDuration, maxAttempts: maxAttempts}, nil
}

func (b *Backend) Submit(ctx context.Context, job queue.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := job.Marshal()
	if err != nil {
		return "", corerr.Wrap(corerr.InputRejected, "marshal job", err)
	}
	b.ordCounter++
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO jobs (id, payload, state, ord) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		job.ID, payload, string(queue.Pending), b.ordCounter)
	if err != nil {
		return "", corerr.Wrap(corerr.BrokerError, "insert job", err)
	}
	return job.ID, nil
}

func (b *Backend) Reserve(ctx context.Context, timeout time.Duration) (queue.Job, queue.Lease, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		job, lease, ok, err := b.tryReserveOnce(ctx)
		if err != nil {
			return queue.Job{}, queue.Lease{}, false, err
		}
		if ok {
			return job, lease, true, nil
		}
		if time.Now().After(deadline) {
			return queue.Job{}, queue.Lease{}, false, nil
		}
		select {
		case <-ctx.Done():
			return queue.Job{}, queue.Lease{}, false, nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (b *Backend) tryReserveOnce(ctx context.Context) (queue.Job, queue.Lease, bool, error) {
	token := uuid.NewString()
	expires := time.Now().Add(b.leaseDuration)

	row := b.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = ?, lease_token = ?, lease_expires_at = ?
		WHERE id = (SELECT id FROM jobs WHERE state = ? ORDER BY ord LIMIT 1)
		RETURNING id, payload`,
		string(queue.Reserved), token, expires.UnixMilli(), string(queue.Pending))

	var id, payload string
	if err := row.Scan(&id, &payload); err != nil {
		if err == sql.ErrNoRows {
			return queue.Job{}, queue.Lease{}, false, nil
		}
		return queue.Job{}, queue.Lease{}, false, corerr.Wrap(corerr.BrokerError, "reserve job", err)
	}

	job, err := queue.UnmarshalJob(payload)
	if err != nil {
		return queue.Job{}, queue.Lease{}, false, corerr.Wrap(corerr.BrokerError, "unmarshal reserved job", err)
	}
	job.State = queue.Reserved
	if err := b.storeJob(ctx, job); err != nil {
		return queue.Job{}, queue.Lease{}, false, err
	}
	return job, queue.Lease{JobID: id, Token: token, Expires: expires}, true, nil
}

func (b *Backend) Extend(ctx context.Context, lease queue.Lease, duration time.Duration) (queue.Lease, error) {
	newExpiry := time.Now().Add(duration)
	res, err := b.db.ExecContext(ctx,
		`UPDATE jobs SET lease_expires_at = ? WHERE id = ? AND lease_token = ?`,
		newExpiry.UnixMilli(), lease.JobID, lease.Token)
	if err != nil {
		return queue.Lease{}, corerr.Wrap(corerr.BrokerError, "extend lease", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return queue.Lease{}, corerr.New(corerr.BrokerError, "lease already expired and reclaimed")
	}
	lease.Expires = newExpiry
	return lease, nil
}

func (b *Backend) PublishProgress(ctx context.Context, jobID string, ev queue.ProgressEvent) error {
	var seq int64
	row := b.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM progress WHERE job_id = ?`, jobID)
	if err := row.Scan(&seq); err != nil {
		return corerr.Wrap(corerr.BrokerError, "allocate progress seq", err)
	}
	ev.Seq = seq
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := ev.Marshal()
	if err != nil {
		return corerr.Wrap(corerr.BrokerError, "marshal progress event", err)
	}
	if _, err := b.db.ExecContext(ctx, `INSERT INTO progress (job_id, seq, payload) VALUES (?, ?, ?)`, jobID, seq, payload); err != nil {
		return corerr.Wrap(corerr.BrokerError, "insert progress event", err)
	}
	return nil
}

func (b *Backend) SubscribeProgress(ctx context.Context, jobID string, fromSeq int64) (<-chan queue.ProgressEvent, error) {
	out := make(chan queue.ProgressEvent, 16)
	go func() {
		defer close(out)
		next := fromSeq
		ticker := time.NewTicker(150 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			rows, err := b.db.QueryContext(ctx, `SELECT seq, payload FROM progress WHERE job_id = ? AND seq >= ? ORDER BY seq`, jobID, next)
			if err != nil {
				continue
			}
			var terminal bool
			for rows.Next() {
				var seq int64
				var payload string
				if err := rows.Scan(&seq, &payload); err != nil {
					continue
				}
				ev, err := queue.UnmarshalProgressEvent(payload)
				if err != nil {
					continue
				}
				next = seq + 1
				select {
				case out <- ev:
				case <-ctx.Done():
					rows.Close()
					return
				}
				if ev.Phase.Terminal() {
					terminal = true
				}
			}
			rows.Close()
			if terminal {
				return
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
	var token sql.NullString
	if err := b.db.QueryRowContext(ctx, `SELECT lease_token FROM jobs WHERE id = ?`, lease.JobID).Scan(&token); err != nil {
		return corerr.Wrap(corerr.BrokerError, "read lease token", err)
	}
	if !token.Valid || token.String != lease.Token {
		return corerr.New(corerr.BrokerError, "lease token stale; job was reclaimed by another worker")
	}
	if stored.State.Terminal() {
		return nil
	}
	stored.State = job.State
	stored.Result = job.Result
	stored.Error = job.Error
	if err := b.storeJob(ctx, stored); err != nil {
		return err
	}

	phase := queue.PhaseCompleted
	detail := stored.Result
	if stored.State == queue.Failed && stored.Error != nil {
		phase = queue.PhaseFailed
		detail = fmt.Sprintf("%s: %s", stored.Error.Kind, stored.Error.Message)
	}
	_ = b.PublishProgress(ctx, lease.JobID, queue.ProgressEvent{Phase: phase, Detail: detail})

	_, _ = b.db.ExecContext(ctx, `UPDATE jobs SET lease_token = NULL, lease_expires_at = NULL WHERE id = ?`, lease.JobID)
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
		b.ordCounter++
		if _, err := b.db.ExecContext(ctx, `UPDATE jobs SET payload = ?, state = ?, ord = ? WHERE id = ?`,
			mustMarshal(stored), string(queue.Pending), b.ordCounter, lease.JobID); err != nil {
			return corerr.Wrap(corerr.BrokerError, "requeue job", err)
		}
		_ = b.PublishProgress(ctx, lease.JobID, queue.ProgressEvent{Phase: queue.PhaseQueued, Detail: "requeued: " + reason})
	}

	_, _ = b.db.ExecContext(ctx, `UPDATE jobs SET lease_token = NULL, lease_expires_at = NULL WHERE id = ?`, lease.JobID)
	return nil
}

func (b *Backend) Status(ctx context.Context, jobID string) (queue.Job, error) {
	return b.loadJob(ctx, jobID)
}

func (b *Backend) Cancel(ctx context.Context, jobID string) error {
	_, err := b.db.ExecContext(ctx, `INSERT INTO cancellations (job_id) VALUES (?) ON CONFLICT(job_id) DO NOTHING`, jobID)
	if err != nil {
		return corerr.Wrap(corerr.BrokerError, "record cancellation", err)
	}
	return nil
}

func (b *Backend) Canceled(ctx context.Context, jobID string) (bool, error) {
	row := b.db.QueryRowContext(ctx, `SELECT 1 FROM cancellations WHERE job_id = ?`, jobID)
	var x int
	err := row.Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, corerr.Wrap(corerr.BrokerError, "read cancellation", err)
	}
	return true, nil
}

func (b *Backend) ReclaimExpired(ctx context.Context) (int, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, lease_token FROM jobs WHERE state = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`,
		string(queue.Reserved), time.Now().UnixMilli())
	if err != nil {
		return 0, corerr.Wrap(corerr.BrokerError, "scan expired leases", err)
	}
	type expired struct{ id, token string }
	var list []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.token); err == nil {
			list = append(list, e)
		}
	}
	rows.Close()

	reclaimed := 0
	for _, e := range list {
		if err := b.FailAndRequeue(ctx, queue.Lease{JobID: e.id, Token: e.token}, "lease expired"); err != nil {
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (b *Backend) Depth(ctx context.Context) (int, error) {
	row := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE state = ?`, string(queue.Pending))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, corerr.Wrap(corerr.BrokerError, "count pending", err)
	}
	return n, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) loadJob(ctx context.Context, id string) (queue.Job, error) {
	row := b.db.QueryRowContext(ctx, `SELECT payload FROM jobs WHERE id = ?`, id)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return queue.Job{}, corerr.New(corerr.NotFound, "job "+id+" not found")
		}
		return queue.Job{}, corerr.Wrap(corerr.BrokerError, "load job", err)
	}
	return queue.UnmarshalJob(payload)
}

func (b *Backend) storeJob(ctx context.Context, job queue.Job) error {
	payload, err := job.Marshal()
	if err != nil {
		return corerr.Wrap(corerr.BrokerError, "marshal job", err)
	}
	if _, err := b.db.ExecContext(ctx, `UPDATE jobs SET payload = ?, state = ? WHERE id = ?`, payload, string(job.State), job.ID); err != nil {
		return corerr.Wrap(corerr.BrokerError, "store job", err)
	}
	return nil
}

func mustMarshal(job queue.Job) string {
	s, _ := job.Marshal()
	return s
}
