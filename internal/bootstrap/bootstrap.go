// Package bootstrap wires the concrete implementations behind the core's
// interfaces from a loaded Config. cmd/worker and cmd/api both call into
// here rather than duplicating construction logic.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/insightqueue/insightqueue/internal/breaker"
	"github.com/insightqueue/insightqueue/internal/broker"
	"github.com/insightqueue/insightqueue/internal/broker/redisbackend"
	"github.com/insightqueue/insightqueue/internal/broker/sqlitebackend"
	"github.com/insightqueue/insightqueue/internal/config"
	"github.com/insightqueue/insightqueue/internal/execsandbox"
	"github.com/insightqueue/insightqueue/internal/inflation"
	"github.com/insightqueue/insightqueue/internal/loader"
	"github.com/insightqueue/insightqueue/internal/modelclient/genaiclient"
	"github.com/insightqueue/insightqueue/internal/orchestrator"
	"github.com/insightqueue/insightqueue/internal/schema"
)

// NewBackend constructs the configured broker.Backend (redis or sqlite).
func NewBackend(cfg *config.Config, log *zap.Logger) (broker.Backend, error) {
	switch cfg.Broker.Backend {
	case "redis":
		return redisbackend.New(cfg, cfg.Worker.LeaseDuration, cfg.Worker.MaxJobAttempts, log), nil
	case "sqlite":
		return sqlitebackend.New(cfg.Broker.SqlitePath, cfg.Worker.LeaseDuration, cfg.Worker.MaxJobAttempts)
	default:
		return nil, fmt.Errorf("unknown broker backend %q", cfg.Broker.Backend)
	}
}

// NewInflationManager wires a Cache+Fetcher pair into a Manager using the
// configured cache path, source URL and staleness window.
func NewInflationManager(cfg *config.Config, log *zap.Logger) *inflation.Manager {
	cache := inflation.New(cfg.Data.InflationCachePath)
	fetcher := inflation.NewFetcher(cfg.Data.InflationSourceURL, cfg.Data.InflationFetchTimeout)
	maxAge := time.Duration(cfg.Data.InflationRefreshMaxAgeDays) * 24 * time.Hour
	return inflation.NewManager(cache, fetcher, maxAge, log)
}

// NewOrchestrator wires a model client, execution sandbox, loader, schema
// inspector and inflation manager into an Orchestrator ready for a Worker.
// The returned Bridge must be closed by the caller on shutdown; it backs
// the generated code's only path to the File Loader and Inflation Cache.
func NewOrchestrator(ctx context.Context, cfg *config.Config, backend broker.Backend, log *zap.Logger) (*orchestrator.Orchestrator, *execsandbox.Bridge, error) {
	apiKey := os.Getenv(cfg.Model.APIKeyEnv)
	if apiKey == "" {
		return nil, nil, fmt.Errorf("environment variable %s must hold the model API key", cfg.Model.APIKeyEnv)
	}

	model, err := genaiclient.New(ctx, apiKey, genaiclient.WithModel(cfg.Model.Name), genaiclient.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("construct model client: %w", err)
	}

	ld := loader.New(cfg.Orchestrator.MaxFileBytes)
	inspector := schema.New(ld, cfg.Data.SchemaHeadRows)
	infl := NewInflationManager(cfg, log)

	bridge := execsandbox.NewBridge(ld, infl, cfg.Data.DataDir)
	if err := bridge.Start(); err != nil {
		return nil, nil, fmt.Errorf("start data bridge: %w", err)
	}

	modelBreaker := breaker.New(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)

	return &orchestrator.Orchestrator{
		Model:        model,
		ModelBreaker: modelBreaker,
		Exec:         execsandbox.NewPythonRunner(bridge.Addr()),
		Loader:       ld,
		Inspector:    inspector,
		Inflation:    infl,
		DataDir:      cfg.Data.DataDir,
		Cfg:          cfg.Orchestrator,
		ModelTimeout: cfg.Model.PerRequestTimeout,
		Canceled:     backend.Canceled,
		Log:          log,
	}, bridge, nil
}
