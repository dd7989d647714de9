package execsandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/insightqueue/insightqueue/internal/corerr"
	"github.com/insightqueue/insightqueue/internal/loader"
)

func skipIfNoPython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available in this environment")
	}
}

func TestRunCapturesStdout(t *testing.T) {
	skipIfNoPython(t)
	r := NewPythonRunner("")
	res, err := r.Run(context.Background(), "print(2 + 2)", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalValueText != "4" {
		t.Fatalf("final value = %q, want 4", res.FinalValueText)
	}
}

func TestRunNonzeroExitIsObservationNotError(t *testing.T) {
	skipIfNoPython(t)
	r := NewPythonRunner("")
	res, err := r.Run(context.Background(), "raise ValueError('boom')", 5*time.Second)
	if err != nil {
		t.Fatalf("expected nil error for a failing code block, got %v", err)
	}
	if res.ExitStatus == 0 {
		t.Fatal("expected a nonzero exit status")
	}
	if res.Stderr == "" {
		t.Fatal("expected stderr to capture the traceback")
	}
}

func TestRunTimeoutIsExecutionTimeout(t *testing.T) {
	skipIfNoPython(t)
	r := NewPythonRunner("")
	_, err := r.Run(context.Background(), "import time; time.sleep(5)", 100*time.Millisecond)
	if !corerr.Is(err, corerr.ExecutionTimeout) {
		t.Fatalf("expected ExecutionTimeout, got %v", err)
	}
}

func TestRunReachesDataBridgeForLoadHead(t *testing.T) {
	skipIfNoPython(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "events.csv"), []byte("name,attendance\nGameA,4000\nGameB,5200\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bridge := NewBridge(loader.New(1<<20), nil, dir)
	if err := bridge.Start(); err != nil {
		t.Fatal(err)
	}
	defer bridge.Close()

	r := NewPythonRunner(bridge.Addr())
	res, err := r.Run(context.Background(), `
frame = load_head("events.csv", 10)
print(len(frame["rows"]))
`, 5*time.Second)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.ExitStatus != 0 {
		t.Fatalf("exit status = %d, stderr = %s", res.ExitStatus, res.Stderr)
	}
	if res.FinalValueText != "2" {
		t.Fatalf("final value = %q, want 2", res.FinalValueText)
	}
}
