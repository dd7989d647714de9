// Copyright 2025 James Ross
package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("WORKER_COUNT")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Worker.Count != 4 {
		t.Fatalf("expected default worker count 4, got %d", cfg.Worker.Count)
	}
	if cfg.Broker.Address == "" {
		t.Fatalf("expected default broker address")
	}
	if cfg.Orchestrator.MaxRounds != 10 {
		t.Fatalf("expected default max_rounds 10, got %d", cfg.Orchestrator.MaxRounds)
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Worker.Count = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for worker.count < 1")
	}

	cfg = defaultConfig()
	cfg.Worker.LeaseDuration = 3 * 1e9 // 3s
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for lease_duration < 5s")
	}

	cfg = defaultConfig()
	cfg.Worker.LeaseExtensionInterval = cfg.Worker.LeaseDuration
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for lease_extension_interval > lease_duration/2")
	}

	cfg = defaultConfig()
	cfg.Orchestrator.PerJobExecBudget = cfg.Orchestrator.PerExecTimeout / 2
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for per_job_exec_budget < per_exec_timeout")
	}

	cfg = defaultConfig()
	cfg.Broker.Backend = "postgres"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown broker backend")
	}
}
