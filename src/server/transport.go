package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/src/interfaces"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait = 2 * time.Second
	closeWait        = time.Second
)

// Close codes
const (
	CloseNormal       = websocket.CloseNormalClosure
	CloseGoingAway    = websocket.CloseGoingAway
	CloseTryAgainLate = websocket.CloseTryAgainLater // 1013, server busy
)

var _ interfaces.ITransport = (*wsTransport)(nil)

// -----------------------------------------------------------------------------
// wsTransport
// -----------------------------------------------------------------------------

// wsTransport owns the write side of a gorilla connection. gorilla allows one
// concurrent writer, so data frames are serialized by mu.
type wsTransport struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// -----------------------------------------------------------------------------

// WriteText writes one text frame. The write deadline comes from ctx.
func (t *wsTransport) WriteText(ctx context.Context, data []byte) error {
	if t.closed.Load() {
		return websocket.ErrCloseSent
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// -----------------------------------------------------------------------------

// Ping sends a ping control frame. Control frames may be written concurrently with data frames.
func (t *wsTransport) Ping(deadline time.Time) error {
	if t.closed.Load() {
		return websocket.ErrCloseSent
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// -----------------------------------------------------------------------------

// Close sends a close frame and closes the socket. Only the first call has an effect.
func (t *wsTransport) Close(code int, reason string) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	return t.conn.Close()
}

// -----------------------------------------------------------------------------

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
