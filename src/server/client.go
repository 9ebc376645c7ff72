package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/src/interfaces"
	"market-stream/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Client State
// -----------------------------------------------------------------------------

type ClientState int32

const (
	StateConnecting ClientState = iota
	StateLive
	StateClosing
	StateRemoved
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

// Client is one connected consumer. The registry owns its transport.
type Client struct {
	ID          string
	ConnectedAt time.Time

	transport     interfaces.ITransport
	mu            sync.Mutex
	state         atomic.Int32
	lastHeartbeat atomic.Int64
	timeframe     atomic.Value
	done          chan struct{}
}

// -----------------------------------------------------------------------------

func newClient(id string, transport interfaces.ITransport, now time.Time, timeframe string) *Client {
	c := &Client{
		ID:          id,
		ConnectedAt: now,
		transport:   transport,
		done:        make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.lastHeartbeat.Store(now.UnixNano())
	c.timeframe.Store(timeframe)
	return c
}

// -----------------------------------------------------------------------------

func (c *Client) transition(from, to ClientState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) IsLive() bool {
	return c.State() == StateLive
}

func (c *Client) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

func (c *Client) Timeframe() string {
	return c.timeframe.Load().(string)
}

func (c *Client) SetTimeframe(tf string) {
	c.timeframe.Store(tf)
}

func (c *Client) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

// Done is closed once the client has been removed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (s *FastAPIServer) readPump(ctx context.Context, c *Client, conn *websocket.Conn) {
	defer s.Logger.RecoverPanic("read pump " + c.ID)
	defer s.registry.Remove(c)

	readTimeout := s.Config.Connections.ReadTimeout()
	conn.SetReadLimit(s.Config.Connections.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		s.registry.TouchHeartbeat(c)
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) && c.IsLive() {
				s.Logger.Info("WebSocket error on %s: %v", c.ID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msgType != websocket.TextMessage {
			continue
		}
		s.HandleClientMessage(ctx, c, message)
	}
}

// -----------------------------------------------------------------------------
// heartbeatPump - pings the client and sends the heartbeat message
// -----------------------------------------------------------------------------

func (s *FastAPIServer) heartbeatPump(ctx context.Context, c *Client, t *wsTransport) {
	defer s.Logger.RecoverPanic("heartbeat pump " + c.ID)

	ticker := time.NewTicker(s.Config.Connections.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case <-ticker.C:
			if err := t.Ping(time.Now().Add(s.Config.Connections.SendTimeout())); err != nil {
				s.Logger.Debug("Ping to %s failed: %v", c.ID, err)
				s.registry.Remove(c)
				return
			}
			// Send removes the client on failure
			if err := s.registry.Send(ctx, c, models.NewOutbound(models.MessageHeartbeat)); err != nil {
				return
			}
		}
	}
}
