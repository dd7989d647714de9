package redisclient

import (
	"testing"

	"github.com/insightqueue/insightqueue/internal/config"
)

func TestNewUsesBrokerAddress(t *testing.T) {
	cfg := config.Default()
	cfg.Broker.Address = "127.0.0.1:6399"

	client := New(cfg)
	defer client.Close()

	if client.Options().Addr != "127.0.0.1:6399" {
		t.Fatalf("addr = %q, want 127.0.0.1:6399", client.Options().Addr)
	}
}
