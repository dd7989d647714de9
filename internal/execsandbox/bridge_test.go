package execsandbox

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/insightqueue/insightqueue/internal/loader"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "events.csv"), []byte("name,attendance\nGameA,4000\nGameB,5200\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	b := NewBridge(loader.New(1<<20), nil, dir)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func postJSON(t *testing.T, addr, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post("http://"+addr+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, out
}

func TestBridgeLoadReturnsFrame(t *testing.T) {
	b := newTestBridge(t)
	status, out := postJSON(t, b.Addr(), "/load", loadRequest{File: "events.csv"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, out)
	}
	cols, _ := out["columns"].([]interface{})
	if len(cols) != 2 {
		t.Fatalf("columns = %v, want 2 entries", out["columns"])
	}
	rows, _ := out["rows"].([]interface{})
	if len(rows) != 2 {
		t.Fatalf("rows = %v, want 2 entries", out["rows"])
	}
}

func TestBridgeLoadHeadTruncates(t *testing.T) {
	b := newTestBridge(t)
	status, out := postJSON(t, b.Addr(), "/load_head", loadRequest{File: "events.csv", N: 1})
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, out)
	}
	rows, _ := out["rows"].([]interface{})
	if len(rows) != 1 {
		t.Fatalf("rows = %v, want 1 entry", out["rows"])
	}
}

func TestBridgeLoadUnknownFileReturnsNotFound(t *testing.T) {
	b := newTestBridge(t)
	status, out := postJSON(t, b.Addr(), "/load", loadRequest{File: "missing.csv"})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, body = %v", status, out)
	}
	if out["error"] == nil {
		t.Fatal("expected an error field in the response")
	}
}

func TestBridgeInflationUnconfiguredReturnsServiceUnavailable(t *testing.T) {
	b := newTestBridge(t)
	status, _ := postJSON(t, b.Addr(), "/inflation", inflationRequest{StartYear: 2015, EndYear: 2020})
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
}
