package main

import (
	"context"
	"time"

	"market-stream/src/logger"
)

// -----------------------------------------------------------------------------

// startServers launches the HTTP server and the background loops. Server errors are
// reported on the returned channel.
func startServers(ctx context.Context, a *app, appLogger *logger.Logger) <-chan error {
	errCh := make(chan error, 1)

	// 1. FastAPIServer (REST, /ws, /metrics)
	go func() {
		if err := a.Server.Start(); err != nil {
			errCh <- err
		}
	}()

	// 2. Broadcast loop
	go a.Scheduler.Run(ctx)

	// 3. Housekeeping
	go a.Registry.RunSweeper(ctx)
	go a.Cache.RunJanitor(ctx, janitorInterval)

	appLogger.Info("All components started")
	return errCh
}

// -----------------------------------------------------------------------------

// shutdown stops components in dependency order: no more ticks, then clients, then
// the listener, then the shared cache.
func shutdown(a *app, appLogger *logger.Logger) {
	timeout := a.Config.Scheduler.ShutdownTimeout()

	if !a.Scheduler.Wait(timeout) {
		appLogger.Warning("Scheduler did not stop within %v", timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout+10*time.Second)
	defer cancel()

	a.Registry.Shutdown(ctx)

	if err := a.Server.Shutdown(ctx); err != nil {
		appLogger.Error("HTTP server shutdown: %v", err)
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			appLogger.Error("Redis close: %v", err)
		}
	}

	appLogger.Info("Shutdown complete")
}
