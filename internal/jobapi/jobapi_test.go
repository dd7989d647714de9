package jobapi

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/insightqueue/insightqueue/internal/broker/sqlitebackend"
	"github.com/insightqueue/insightqueue/internal/corerr"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return newTestServiceWithDataDir(t, t.TempDir())
}

func newTestServiceWithDataDir(t *testing.T, dataDir string) *Service {
	t.Helper()
	b, err := sqlitebackend.New(t.TempDir()+"/jobapi.db", time.Minute, 3)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return New(b, dataDir, zap.NewNop())
}

func TestSubmitRejectsEmptyQuestion(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Submit(context.Background(), SubmitRequest{Question: "  "})
	if !corerr.Is(err, corerr.InputRejected) {
		t.Fatalf("expected InputRejected, got %v", err)
	}
}

func TestSubmitIsIdempotentByID(t *testing.T) {
	svc := newTestService(t)
	req := SubmitRequest{ID: "fixed-id", Question: "how many games?"}

	id1, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 || id1 != "fixed-id" {
		t.Fatalf("expected idempotent submit to return the same id, got %q and %q", id1, id2)
	}
}

func TestSubmitRejectsUnknownPrimaryFile(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Submit(context.Background(), SubmitRequest{Question: "how many?", PrimaryFile: "nope.csv"})
	if !corerr.Is(err, corerr.InputRejected) {
		t.Fatalf("expected InputRejected, got %v", err)
	}
}

func TestSubmitRejectsPrimaryFileOutsideDataDir(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Submit(context.Background(), SubmitRequest{Question: "how many?", PrimaryFile: "../escape.csv"})
	if !corerr.Is(err, corerr.InputRejected) {
		t.Fatalf("expected InputRejected, got %v", err)
	}
}

func TestSubmitAcceptsExistingPrimaryFile(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.WriteFile(dataDir+"/events.csv", []byte("name,attendance\nGameA,4000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := newTestServiceWithDataDir(t, dataDir)
	if _, err := svc.Submit(context.Background(), SubmitRequest{Question: "how many?", PrimaryFile: "events.csv"}); err != nil {
		t.Fatalf("expected a file that exists to be accepted, got %v", err)
	}
}

func TestStatusRejectsEmptyID(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Status(context.Background(), "")
	if !corerr.Is(err, corerr.InputRejected) {
		t.Fatalf("expected InputRejected, got %v", err)
	}
}

func TestCancelMarksJobCanceled(t *testing.T) {
	svc := newTestService(t)
	id, err := svc.Submit(context.Background(), SubmitRequest{Question: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Cancel(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	job, err := svc.Status(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	_ = job // the sqlite backend leaves state alone on Cancel; the orchestrator observes Canceled() itself

	canceled, err := svc.backend.Canceled(context.Background(), id)
	if err != nil || !canceled {
		t.Fatalf("expected the job's cancel flag to be set, got canceled=%v err=%v", canceled, err)
	}
}
