// Command datasleigh runs the Data Sleigh ingest/publish daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xmastree/datasleigh/internal/config"
	"github.com/xmastree/datasleigh/internal/logging"
	"github.com/xmastree/datasleigh/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sup, err := supervisor.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize supervisor", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("data sleigh starting", zap.String("store_path", cfg.Store.Path))
	if err := sup.Run(ctx); err != nil {
		logger.Fatal("supervisor exited with error", zap.Error(err))
	}
	logger.Info("data sleigh exited cleanly")
}
