package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rx-safety-engine/internal/api"
	"github.com/rx-safety-engine/internal/app"
	"github.com/rx-safety-engine/internal/config"
	"github.com/rx-safety-engine/internal/logging"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := logging.New(cfg.Logging)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}
	defer engine.Close()

	if err := engine.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start background jobs")
	}

	deps := api.Dependencies{
		Normalizer: engine.Normalizer,
		Matcher:    engine.Matcher,
		Deriver:    engine.Deriver,
		Calculator: engine.Calculator,
		Safety:     engine.Safety,
		Evidence:   engine.Evidence,
		Snapshots:  engine.Snapshots,
		Reports:    engine.ReportStore(),
		Metrics:    engine.Metrics,
		Registry:   engine.Registry,
		Logger:     logger,
	}
	if engine.Cache != nil {
		deps.Cache = engine.Cache
	}
	server := api.NewServer(cfg.Server, deps)

	logger.WithField("environment", cfg.Environment).Infof("Starting rx-safety engine on %s:%d", cfg.Server.Host, cfg.Server.Port)

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("Server stopped")
}
