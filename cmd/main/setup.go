package main

import (
	"context"
	"time"

	"market-stream/src/analysis"
	"market-stream/src/cache"
	datasource "market-stream/src/data_source"
	"market-stream/src/delta"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/metrics"
	"market-stream/src/models"
	"market-stream/src/network"
	"market-stream/src/scheduler"
	"market-stream/src/server"
	"market-stream/src/subscription"
	"market-stream/src/utils"
)

const (
	redisMonitorInterval = 15 * time.Second
	janitorInterval      = time.Minute
)

// app holds the wired components for startup and shutdown.
type app struct {
	Config    *models.MConfig
	Metrics   *metrics.PrometheusSink
	Redis     *cache.RedisTier
	Cache     *cache.DataCache
	Registry  *server.Registry
	Scheduler *scheduler.BroadcastScheduler
	Server    *server.FastAPIServer
}

// -----------------------------------------------------------------------------

// setupApp wires every component. Nothing is started except the redis health probe.
func setupApp(ctx context.Context, cfg *models.MConfig, appLogger *logger.Logger) *app {
	sink := metrics.NewPrometheusSink()

	sources := setupDataSources(cfg, appLogger)
	fetch := datasource.KeyFetcher(sources, analysis.IndicatorComputer{})

	redisTier, external := setupRedis(ctx, cfg, appLogger)
	dataCache := setupCache(cfg, external, sink)

	// A cleared cache means clients must get full snapshots again
	deltas := delta.NewComputer()
	dataCache.OnClear(deltas.ResetAll)

	index := subscription.NewIndex()
	registry := server.NewRegistry(cfg, index, sink, appLogger.With("Registry"))

	sched := scheduler.NewBroadcastScheduler(
		cfg, dataCache, fetch, index, deltas, registry, sink,
		appLogger.With("Scheduler"),
	)

	srv := server.NewFastAPIServer(cfg, appLogger.With("Server"), server.Deps{
		Registry:      registry,
		Subscriptions: index,
		Cache:         dataCache,
		Fetch:         fetch,
		Catalog:       sources,
		Metrics:       sink,
		Scheduler:     sched,
	})

	return &app{
		Config:    cfg,
		Metrics:   sink,
		Redis:     redisTier,
		Cache:     dataCache,
		Registry:  registry,
		Scheduler: sched,
		Server:    srv,
	}
}

// -----------------------------------------------------------------------------

// setupDataSources initializes the upstream sources behind one router
func setupDataSources(cfg *models.MConfig, appLogger *logger.Logger) *datasource.MultiSourceManager {
	appLogger.Info("Initializing data sources (provider %s)...", cfg.DataSource.Provider)
	networkManager := network.NewAsyncNetworkManager(cfg, logger.NewLogger(cfg, "NetworkManager"))
	return datasource.NewFromConfig(cfg, networkManager, logger.NewLogger(cfg, "MultiSourceManager"))
}

// -----------------------------------------------------------------------------

// setupRedis connects the shared tier when enabled. An unreachable server is not fatal:
// the cache runs in memory and the monitor brings the tier back when it answers.
func setupRedis(ctx context.Context, cfg *models.MConfig, appLogger *logger.Logger) (*cache.RedisTier, interfaces.IExternalCache) {
	if !cfg.Redis.Enabled {
		appLogger.Info("Redis tier disabled, caching in memory only")
		return nil, nil
	}

	tier := cache.NewRedisTier(cfg.Redis, logger.NewLogger(cfg, "RedisTier"))
	if err := tier.Connect(ctx); err != nil {
		appLogger.Warning("%v, caching in memory only until it recovers", err)
	}
	go tier.Monitor(ctx, redisMonitorInterval)
	return tier, tier
}

// -----------------------------------------------------------------------------

// setupCache builds the data cache with market-hours aware TTLs
func setupCache(cfg *models.MConfig, external interfaces.IExternalCache, sink interfaces.IMetricsSink) *cache.DataCache {
	clock := utils.NewMarketScheduler(cfg.DataSource.Instruments, logger.NewLogger(cfg, "MarketScheduler"))
	ttl := cache.NewTTLPolicy(cfg.Cache, clock)
	return cache.NewDataCache(cfg.Cache, external, ttl, sink, logger.NewLogger(cfg, "DataCache"))
}
