package server

import (
	"context"
	"net/http"

	"market-stream/src/cache"
	"market-stream/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

func (s *FastAPIServer) newUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) handleWebSocket(c *gin.Context) {
	if !s.acceptLimiter.Allow() {
		s.Logger.Warning("Connection rate exceeded, refusing %s", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return
	}
	if s.registry.ShuttingDown() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	transport := newWSTransport(conn)
	client, err := s.registry.Accept(transport)
	if err != nil {
		// Accept already closed the transport with the right code
		return
	}

	// Connections outlive the HTTP request, so they hang off the server context.
	ctx := s.ctx
	if s.Config.Connections.SeedDefaultSubscriptions {
		_, _ = s.registry.Subscribe(client, s.Config.Scheduler.DefaultSymbols)
	}
	if err := s.sendInit(ctx, client); err != nil {
		return
	}

	go s.heartbeatPump(ctx, client, transport)
	go s.readPump(ctx, client, conn)
}

// -----------------------------------------------------------------------------

// sendInit greets a new client with its id, settings and whatever the cache holds
// for the default symbols. Nothing is fetched upstream here.
func (s *FastAPIServer) sendInit(ctx context.Context, c *Client) error {
	symbols := s.viewSymbols(c)
	snapshots := make(map[string]*models.MSnapshot, len(symbols))
	for _, sym := range symbols {
		if snap, ok := s.cache.Get(ctx, cache.QuoteKey(sym)); ok {
			snapshots[sym] = snap
		}
	}

	msg := models.NewOutbound(models.MessageInit)
	msg.Data = models.MInitPayload{
		ClientID:   c.ID,
		Timeframe:  c.Timeframe(),
		Timeframes: s.Config.Timeframes,
		Symbols:    symbols,
		Snapshots:  snapshots,
	}
	return s.registry.Send(ctx, c, msg)
}
