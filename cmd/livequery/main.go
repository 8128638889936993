package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/syntrixbase/livequery/internal/config"
	"github.com/syntrixbase/livequery/internal/logging"
)

func main() {
	// 0. Parse Command Line Flags
	configDir := flag.String("config", "config", "Directory holding config.yml and config.local.yml")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	// 2. Run until a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger.Logger)
	stop()

	if err != nil {
		logger.Error("Service failed", "error", err)
	}
	_ = logger.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	logger.Info("Starting livequery",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		"pubsub", cfg.PubSub.Backend,
		"cache", cfg.Cache.Backend,
		"cluster", cfg.Cluster.Enabled,
		"ingest", cfg.Ingest.Enabled,
	)
	return app.serve(ctx)
}
