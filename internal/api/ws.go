package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/deskconf/internal/notify"
)

const (
	wsWriteTimeout = 5 * time.Second
	// wsQueueSize is how many events a client may fall behind before it is
	// dropped.
	wsQueueSize = 16
)

// Hub streams published events to websocket clients. It is registered as a
// notify.Hook and served at GET /events.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[*wsConn]struct{}
}

// wsConn is one client. Only its writeLoop writes to conn.
type wsConn struct {
	conn *websocket.Conn
	send chan notify.Event
}

// NewHub creates a Hub with no clients.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// The API only listens on loopback and requires a bearer token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: slog.Default(),
		conns:  make(map[*wsConn]struct{}),
	}
}

// Notify queues ev for every connected client and returns without waiting
// for the writes. Clients whose queue is full are dropped.
func (h *Hub) Notify(ctx context.Context, ev notify.Event) error {
	var slow []*wsConn
	h.mu.RLock()
	for c := range h.conns {
		select {
		case c.send <- ev:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Debug("dropping slow websocket client")
		h.remove(c)
	}
	return nil
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := h.add(conn)
	go h.writeLoop(c)
	h.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	defer h.remove(c)
	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) *wsConn {
	c := &wsConn{conn: conn, send: make(chan notify.Event, wsQueueSize)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// writeLoop drains c.send until remove closes it. After a failed write the
// connection is closed, which ends the read loop in ServeHTTP.
func (h *Hub) writeLoop(c *wsConn) {
	failed := false
	for ev := range c.send {
		if failed {
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.logger.Debug("websocket write failed", "error", err)
			failed = true
			c.conn.Close()
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*wsConn]struct{})
	h.mu.Unlock()
	for c := range conns {
		close(c.send)
		c.conn.Close()
	}
}

// remove closes c once. send is closed under the write lock so Notify never
// sends on a closed channel.
func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	if ok {
		delete(h.conns, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}
