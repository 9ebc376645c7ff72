package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"market-stream/src/config"
	"market-stream/src/logger"

	_ "go.uber.org/automaxprocs"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.MConfig, cfg.Name)
	appLogger.Info("Starting %s (provider %s, max %d connections)", cfg.Name, cfg.DataSource.Provider, cfg.Connections.MaxConnections)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Build and start every component
	app := setupApp(ctx, cfg.MConfig, appLogger)
	errCh := startServers(ctx, app, appLogger)

	select {
	case <-ctx.Done():
		appLogger.Info("Shutdown signal received")
	case err := <-errCh:
		appLogger.Error("Server failed: %v", err)
		cancel()
	}

	shutdown(app, appLogger)
}
