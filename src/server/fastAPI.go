package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"market-stream/src/cache"
	"market-stream/src/helpers"
	"market-stream/src/interfaces"
	"market-stream/src/logger"
	"market-stream/src/metrics"
	"market-stream/src/models"
	"market-stream/src/subscription"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ISchedulerStats exposes the broadcast loop counters to the HTTP surface.
type ISchedulerStats interface {
	Stats() models.MSchedulerStats
}

// Deps are the components the server fronts. Scheduler may be nil.
type Deps struct {
	Registry      *Registry
	Subscriptions *subscription.Index
	Cache         *cache.DataCache
	Fetch         cache.FetchFunc
	Catalog       interfaces.IInstrumentCatalog
	Metrics       *metrics.PrometheusSink
	Scheduler     ISchedulerStats
}

// -----------------------------------------------------------------------------
// FastAPIServer
// -----------------------------------------------------------------------------

type FastAPIServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	engine *gin.Engine
	http   *http.Server

	registry      *Registry
	subscriptions *subscription.Index
	cache         *cache.DataCache
	fetch         cache.FetchFunc
	catalog       interfaces.IInstrumentCatalog
	metrics       *metrics.PrometheusSink
	scheduler     ISchedulerStats

	upgrader      *websocket.Upgrader
	acceptLimiter *rate.Limiter
	startedAt     time.Time

	// Connection goroutines stop when ctx is cancelled
	ctx    context.Context
	cancel context.CancelFunc
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewFastAPIServer(cfg *models.MConfig, logger *logger.Logger, deps Deps) *FastAPIServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	limit := rate.Limit(cfg.Connections.AcceptRatePerSecond)
	if cfg.Connections.AcceptRatePerSecond <= 0 {
		limit = rate.Inf
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FastAPIServer{
		Config:        cfg,
		Logger:        logger,
		engine:        gin.New(),
		registry:      deps.Registry,
		subscriptions: deps.Subscriptions,
		cache:         deps.Cache,
		fetch:         deps.Fetch,
		catalog:       deps.Catalog,
		metrics:       deps.Metrics,
		scheduler:     deps.Scheduler,
		acceptLimiter: rate.NewLimiter(limit, max(cfg.Connections.AcceptBurst, 1)),
		startedAt:     time.Now(),
		ctx:           ctx,
		cancel:        cancel,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewPrometheusSink()
	}
	s.upgrader = s.newUpgrader()

	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	// setup web routes
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *FastAPIServer) setupRoutes() {
	// REST API endpoints
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/metrics", s.getMetrics)
	s.engine.GET("/api/config", s.getConfig)
	s.engine.GET("/api/stats", s.getStats)
	s.engine.POST("/api/cache/clear", s.clearCache)

	// Prometheus scrape endpoint
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// -----------------------------------------------------------------------------

// corsConfig allows the listed origins with credentials, or any origin without them.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Cache-Control", "X-Requested-With"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

// -----------------------------------------------------------------------------

// Handler exposes the router, used by tests through httptest.
func (s *FastAPIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *FastAPIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.Logger.Info("Starting server on %s", addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Shutdown stops accepting requests and ends every connection goroutine.
// Clients should already have been notified through Registry.Shutdown.
func (s *FastAPIServer) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *FastAPIServer) getHealth(c *gin.Context) {
	status := "ok"
	if s.registry.ShuttingDown() {
		status = "shutting_down"
	}

	body := gin.H{
		"status":      status,
		"connections": s.registry.Count(),
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"system":      helpers.SystemSnapshot(c.Request.Context()),
	}
	if s.scheduler != nil {
		body["latest_update"] = s.scheduler.Stats().LastTick
	}
	c.JSON(http.StatusOK, body)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"counters":      s.metrics.Snapshot(),
		"cache":         s.cache.Stats(),
		"subscriptions": s.subscriptions.Stats(),
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getConfig(c *gin.Context) {
	body := gin.H{
		"timeframes":      s.Config.Timeframes,
		"default_symbols": s.Config.Scheduler.DefaultSymbols,
	}
	if s.catalog != nil {
		body["instruments"] = s.catalog.Instruments()
	}
	c.JSON(http.StatusOK, body)
}

// -----------------------------------------------------------------------------

// clearCache drops every in-process entry; the next tick reloads from upstream.
func (s *FastAPIServer) clearCache(c *gin.Context) {
	s.cache.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "cache": s.cache.Stats()})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getStats(c *gin.Context) {
	body := gin.H{
		"registry":      s.registry.Stats(),
		"cache":         s.cache.Stats(),
		"subscriptions": s.subscriptions.Stats(),
	}
	if s.scheduler != nil {
		body["scheduler"] = s.scheduler.Stats()
	}
	c.JSON(http.StatusOK, body)
}
