// Kasuwa settlement engine - escrow and wallet settlement for the marketplace
package main

import (
	"context"
	"os"

	"github.com/kasuwahq/settlement/internal/config"
	"github.com/kasuwahq/settlement/internal/logging"
	"github.com/kasuwahq/settlement/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "json")

	logger.Info("starting settlement engine",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"payout_interval", cfg.PayoutInterval,
		"drift_threshold", cfg.DriftThreshold,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
