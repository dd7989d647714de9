// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insightqueue/insightqueue/internal/bootstrap"
	"github.com/insightqueue/insightqueue/internal/config"
	"github.com/insightqueue/insightqueue/internal/obs"
	"github.com/insightqueue/insightqueue/internal/reaper"
	"github.com/insightqueue/insightqueue/internal/worker"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	logger = obs.Component(logger, "worker")
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = obs.TracerShutdown(context.Background(), tp) }()
	}

	backend, err := bootstrap.NewBackend(cfg, logger)
	if err != nil {
		logger.Fatal("failed to construct broker backend", obs.Err(err))
	}
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(cfg.Worker.ShutdownGrace):
		}
	}()

	readyCheck := func(c context.Context) error {
		_, err := backend.Depth(c)
		return err
	}
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	orch, bridge, err := bootstrap.NewOrchestrator(ctx, cfg, backend, logger)
	if err != nil {
		logger.Fatal("failed to construct orchestrator", obs.Err(err))
	}
	defer bridge.Close()

	rep := reaper.New(backend, logger, cfg.Worker.ReserveTimeout)
	go rep.Run(ctx)

	wrk := worker.New(cfg, backend, orch, logger)
	if err := wrk.Run(ctx); err != nil {
		logger.Fatal("worker error", obs.Err(err))
	}
}
