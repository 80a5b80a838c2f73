// Escrowd - payment-gateway facilitator for agent resource purchases
package main

import (
	"context"
	"os"

	"github.com/dpayne7/escrowd/internal/config"
	"github.com/dpayne7/escrowd/internal/logging"
	"github.com/dpayne7/escrowd/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting escrowd",
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
		"network", cfg.Network,
		"custody_wallet", cfg.CustodyWallet,
	)

	srv, err := server.New(cfg)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
