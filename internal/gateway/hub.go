package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goblast/pkg/protocol"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway binds to loopback by default; cross-origin dashboards
	// must present the bearer token anyway.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans lifecycle events out to WebSocket subscribers. The stream is
// one-way: subscribers only receive.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*wsClient
	seq     atomic.Int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*wsClient)}
}

// Broadcast pushes an event frame to every subscriber. Slow subscribers
// drop frames rather than blocking the caller.
func (h *Hub) Broadcast(frame protocol.EventFrame) {
	frame.Seq = h.seq.Add(1)
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshal event failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("subscriber buffer full, dropping event", "client", id, "event", frame.Event)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches a subscriber until the
// connection drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	slog.Debug("subscriber connected", "client", c.id)

	go c.writePump()
	c.readPump() // blocks until close

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	close(c.send)
	slog.Debug("subscriber disconnected", "client", c.id)
}

// wsClient is one event-stream subscriber.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// readPump discards inbound frames; it exists to notice disconnects and
// answer pings.
func (c *wsClient) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
