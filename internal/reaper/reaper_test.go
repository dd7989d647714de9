package reaper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/insightqueue/insightqueue/internal/broker/sqlitebackend"
	"github.com/insightqueue/insightqueue/internal/queue"
)

func newTestBackend(t *testing.T) *sqlitebackend.Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reaper.db")
	b, err := sqlitebackend.New(path, 50*time.Millisecond, 3)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSweepOnceRequeuesExpiredLease(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	job := queue.NewJob("job-1", "what is the median attendance?", "events.csv")
	if _, err := backend.Submit(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, _, ok, err := backend.Reserve(ctx, time.Second); !ok || err != nil {
		t.Fatalf("Reserve() = %v, %v", ok, err)
	}

	time.Sleep(100 * time.Millisecond)

	r := New(backend, zap.NewNop(), time.Millisecond)
	r.sweepOnce(ctx)

	if _, _, ok, err := backend.Reserve(ctx, time.Second); !ok || err != nil {
		t.Fatalf("expected the job to be reclaimed and reservable again, got ok=%v err=%v", ok, err)
	}
}

func TestSweepOnceNoExpiredLeasesIsNoop(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	job := queue.NewJob("job-2", "what is the median attendance?", "events.csv")
	if _, err := backend.Submit(ctx, job); err != nil {
		t.Fatal(err)
	}
	if _, _, ok, err := backend.Reserve(ctx, time.Minute); !ok || err != nil {
		t.Fatalf("Reserve() = %v, %v", ok, err)
	}

	r := New(backend, zap.NewNop(), time.Millisecond)
	r.sweepOnce(ctx)

	if _, _, ok, _ := backend.Reserve(ctx, time.Minute); ok {
		t.Fatal("expected the still-leased job not to be reclaimed")
	}
}

func TestNewDefaultsZeroInterval(t *testing.T) {
	backend := newTestBackend(t)
	r := New(backend, zap.NewNop(), 0)
	if r.interval != 5*time.Second {
		t.Fatalf("interval = %v, want 5s default", r.interval)
	}
}
