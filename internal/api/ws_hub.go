package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rentkit/reservation-engine/internal/metrics"
)

// WSMessage is a JSON event pushed to WebSocket subscribers when stock
// is claimed or released, or a cart is reallocated.
type WSMessage struct {
	Type       string `json:"type"`
	ResourceID string `json:"resource_id,omitempty"`
	PoolID     string `json:"pool_id,omitempty"`
	CartID     string `json:"cart_id,omitempty"`
	Quantity   int64  `json:"quantity,omitempty"`
	Reference  string `json:"reference,omitempty"`
	Window     string `json:"window,omitempty"`
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 32
)

// wsClient is one subscriber. Each client owns a buffered send channel
// drained by its writePump; a client that cannot keep up is dropped
// rather than allowed to block stock operations.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub fans stock events out to all connected subscribers.
type WSHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	events  chan []byte
}

// NewWSHub creates an idle hub; call Run in a goroutine to start it.
func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[*wsClient]struct{}),
		events:  make(chan []byte, 256),
	}
}

// Run fans queued events out to subscribers. Must be called in a
// goroutine.
func (h *WSHub) Run() {
	for data := range h.events {
		h.mu.Lock()
		for c := range h.clients {
			select {
			case c.send <- data:
			default:
				// Slow consumer; drop it.
				h.removeLocked(c)
			}
		}
		h.mu.Unlock()
	}
}

// Broadcast queues a message for every subscriber. Never blocks: when
// the event queue is full the message is dropped.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.events <- data:
	default:
	}
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Inc()
	slog.Info("ws client connected", "total", total)
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *WSHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Dec()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS upgrades the connection and subscribes it to stock events.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.add(c)
	go h.writePump(c)
	go h.readPump(c)
}

// writePump drains the client's send channel and keeps the connection
// alive through proxies with periodic pings.
func (h *WSHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and detects disconnects.
func (h *WSHub) readPump(c *wsClient) {
	defer h.remove(c)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
