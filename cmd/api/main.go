package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"gearflow/account"
	"gearflow/config"
	"gearflow/db"
	"gearflow/idp"
	"gearflow/listing"
	"gearflow/session"
)

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("bootstrap database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	provider := idp.NewService(idp.NewRepository(pool), cfg.JWTSecret, logger)
	records := account.NewStore(pool)

	coordinator := session.NewCoordinator(provider, records, logger).
		WithBootstrapTimeout(cfg.BootstrapTimeout)
	if err := coordinator.Bootstrap(ctx); err != nil {
		logger.Error("bootstrap session coordinator", "error", err)
		os.Exit(1)
	}
	defer coordinator.Close()

	listings := listing.NewService(listing.NewRepository(pool))

	server := newServer(coordinator, provider, listings, logger)

	logger.Info("api listening", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, server.routes()); err != nil {
		logger.Error("http server", "error", err)
		os.Exit(1)
	}
}
