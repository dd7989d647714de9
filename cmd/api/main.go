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
	"github.com/insightqueue/insightqueue/internal/jobapi"
	"github.com/insightqueue/insightqueue/internal/jobapi/httpapi"
	"github.com/insightqueue/insightqueue/internal/obs"
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
	logger = obs.Component(logger, "api")
	defer logger.Sync()

	backend, err := bootstrap.NewBackend(cfg, logger)
	if err != nil {
		logger.Fatal("failed to construct broker backend", obs.Err(err))
	}
	defer backend.Close()

	svc := jobapi.New(backend, cfg.Data.DataDir, logger)
	srv := httpapi.NewServer(httpapi.Config{
		ListenAddr:  cfg.HTTPAPI.Addr,
		ReadTimeout: 10 * time.Second,
	}, svc, logger)

	readyCheck := func(c context.Context) error {
		_, err := backend.Depth(c)
		return err
	}
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("http server shutdown failed", obs.Err(err))
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal("job api server error", obs.Err(err))
	}
}
