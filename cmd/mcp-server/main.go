package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rx-safety-engine/internal/app"
	"github.com/rx-safety-engine/internal/config"
	"github.com/rx-safety-engine/internal/logging"
	"github.com/rx-safety-engine/internal/mcp"
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

	// stdout carries the MCP protocol; logs must go elsewhere.
	cfg.Logging.Output = "stderr"
	logger := logging.New(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
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

	server := mcp.NewServer(cfg.MCP, mcp.Dependencies{
		Normalizer: engine.Normalizer,
		Matcher:    engine.Matcher,
		Deriver:    engine.Deriver,
		Calculator: engine.Calculator,
		Safety:     engine.Safety,
		Snapshots:  engine.Snapshots,
	}, logger)

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("rx-safety MCP server stopped")
}
