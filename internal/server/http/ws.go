package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const wsWriteTimeout = 10 * time.Second

// wsChannel adapts a websocket connection to registry.Channel. Writes are
// serialized; the fanout path may race with the handler's close.
type wsChannel struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// Send delivers one event as a single text frame.
func (c *wsChannel) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return context.Canceled
	}
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, payload)
}

// Close is idempotent: the registry may close an evicted channel after the
// handler already has.
func (c *wsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// handleWS upgrades the connection and registers it for the user's events.
// The stream is outbound-only; reads only drain control frames and detect
// the client going away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromCtx(r.Context())

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}

	ch := &wsChannel{conn: conn}
	s.hub.Register(userID, ch)
	defer func() {
		s.hub.Unregister(userID, ch)
		_ = ch.Close()
	}()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}
