package sqlitebackend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/insightqueue/insightqueue/internal/corerr"
	"github.com/insightqueue/insightqueue/internal/queue"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	b, err := New(path, 2*time.Second, 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSubmitReserveComplete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	job := queue.NewJob("job-1", "what is the median price?", "sales.csv")
	id, err := b.Submit(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	if id != "job-1" {
		t.Fatalf("id = %q, want job-1", id)
	}

	got, lease, ok, err := b.Reserve(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("Reserve() = %v, %v, %v", got, ok, err)
	}
	if got.State != queue.Reserved {
		t.Fatalf("state = %v, want RESERVED", got.State)
	}

	got.State = queue.Succeeded
	got.Result = "112.48"
	if err := b.Complete(ctx, lease, got); err != nil {
		t.Fatal(err)
	}

	final, err := b.Status(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if final.State != queue.Succeeded || final.Result != "112.48" {
		t.Fatalf("final = %+v", final)
	}
}

func TestSubmitIdempotent(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	job := queue.NewJob("dup-1", "q", "")
	id1, err := b.Submit(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := b.Submit(ctx, job)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("resubmit returned different id: %s vs %s", id1, id2)
	}
	depth, err := b.Depth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Fatalf("depth = %d, want 1 (no duplicate enqueue)", depth)
	}
}

func TestProgressMonotonicity(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	job := queue.NewJob("job-2", "q", "")
	id, _ := b.Submit(ctx, job)

	events, err := b.SubscribeProgress(ctx, id, 1)
	if err != nil {
		t.Fatal(err)
	}

	phases := []queue.Phase{queue.PhaseQueued, queue.PhaseLoadingContext, queue.PhaseGeneratingCode, queue.PhaseCompleted}
	go func() {
		for _, p := range phases {
			_ = b.PublishProgress(ctx, id, queue.ProgressEvent{Phase: p, Detail: string(p)})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	var seen []queue.ProgressEvent
	timeout := time.After(3 * time.Second)
loop:
	for {
		select {
		case ev, open := <-events:
			if !open {
				break loop
			}
			seen = append(seen, ev)
		case <-timeout:
			t.Fatal("timed out waiting for progress events")
		}
	}

	if len(seen) != len(phases) {
		t.Fatalf("got %d events, want %d", len(seen), len(phases))
	}
	for i, ev := range seen {
		if ev.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d, want %d", i, ev.Seq, i+1)
		}
	}
}

func TestReserveThenLeaseExpiryRequeues(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	job := queue.NewJob("job-3", "q", "")
	id, _ := b.Submit(ctx, job)

	_, _, ok, err := b.Reserve(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("Reserve() = %v, %v", ok, err)
	}

	time.Sleep(2100 * time.Millisecond)

	n, err := b.ReclaimExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d jobs, want 1", n)
	}

	status, err := b.Status(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if status.State != queue.Pending || status.Attempts != 1 {
		t.Fatalf("status = %+v, want PENDING with attempts=1", status)
	}

	_, _, ok, err = b.Reserve(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("second Reserve() = %v, %v", ok, err)
	}
}

func TestReclaimExhaustsAttemptsToFailed(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t) // maxAttempts = 2

	job := queue.NewJob("job-4", "q", "")
	id, _ := b.Submit(ctx, job)

	for i := 0; i < 2; i++ {
		_, _, ok, err := b.Reserve(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("Reserve() round %d = %v, %v", i, ok, err)
		}
		time.Sleep(2100 * time.Millisecond)
		if _, err := b.ReclaimExpired(ctx); err != nil {
			t.Fatal(err)
		}
	}

	status, err := b.Status(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if status.State != queue.Failed {
		t.Fatalf("status = %+v, want FAILED after exhausting attempts", status)
	}
}

func TestStatusNotFound(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	_, err := b.Status(ctx, "missing")
	if !corerr.Is(err, corerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	job := queue.NewJob("job-5", "q", "")
	id, _ := b.Submit(ctx, job)

	canceled, err := b.Canceled(ctx, id)
	if err != nil || canceled {
		t.Fatalf("expected not canceled initially, got %v, %v", canceled, err)
	}
	if err := b.Cancel(ctx, id); err != nil {
		t.Fatal(err)
	}
	canceled, err = b.Canceled(ctx, id)
	if err != nil || !canceled {
		t.Fatalf("expected canceled after Cancel(), got %v, %v", canceled, err)
	}
}
