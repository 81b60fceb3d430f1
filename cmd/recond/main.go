package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reconcile/config"
	"reconcile/core/recon"
	"reconcile/gateway"
	"reconcile/gateway/middleware"
	"reconcile/observability/logging"
	"reconcile/provider"
	"reconcile/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.Setup("reconciliation-service", cfg.Debug)

	if cfg.MockProviderAPIKey != "" {
		prov := provider.NewClient(cfg.MockProviderURL, cfg.MockProviderAPIKey)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := prov.Health(ctx); err != nil {
			logger.Warn("sandbox provider unreachable", slog.String("error", err.Error()))
		} else {
			logger.Info("sandbox provider reachable", slog.String("url", cfg.MockProviderURL))
		}
		cancel()
	}

	var store storage.Store
	if cfg.DatabasePath != "" {
		sqlite, err := storage.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			logger.Error("open sqlite store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store = sqlite
	} else {
		logger.Warn("no database path configured, using in-memory store")
		store = storage.NewMemoryStore()
	}
	defer store.Close()

	engine := recon.NewEngine(store, cfg.FeeTolerancePercent, logger)
	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: cfg.WebhookRequestsPerMinute,
	})
	server := gateway.NewServer(gateway.Config{
		Engine:      engine,
		Store:       store,
		Secret:      cfg.WebhookSecret,
		Logger:      logger,
		RateLimiter: limiter,
	})

	srv := &http.Server{Addr: cfg.Addr(), Handler: server}
	go func() {
		logger.Info("reconciliation service listening", slog.String("addr", cfg.Addr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down reconciliation service")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}
