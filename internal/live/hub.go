// Package live pushes refresh events to dashboard clients over WebSocket.
// The hub subscribes to the cache manager's refresh feed and fans each event
// out to every connected client.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"coinboard/internal/cache"
	"coinboard/internal/observability"
)

// Config configures hub connection behavior.
type Config struct {
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// PongWait is how long to wait for a pong before dropping the client.
	PongWait time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SendBuffer is the per-client outbound queue length. A client that
	// falls this far behind starts losing messages instead of stalling
	// the broadcast.
	SendBuffer int
	// ReadLimit caps inbound frame size. Clients only send control frames.
	ReadLimit int64
}

// DefaultConfig returns default hub configuration.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   16,
		ReadLimit:    512,
	}
}

// Feed is the refresh event stream the hub consumes. *cache.Manager
// satisfies it.
type Feed interface {
	Subscribe() <-chan cache.RefreshEvent
	Unsubscribe(ch <-chan cache.RefreshEvent)
}

// Message is the wire payload pushed after every successful refresh.
type Message struct {
	Type           string  `json:"type"`
	TotalCoins     int     `json:"totalCoins"`
	TotalMarketCap float64 `json:"totalMarketCap"`
	TotalVolume24h float64 `json:"totalVolume24h"`
	UpdatedAt      int64   `json:"updatedAt"`
}

// Hub accepts WebSocket clients and broadcasts refresh events to them.
type Hub struct {
	feed   Feed
	config Config
	log    *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub reading from feed. Pass nil config for defaults.
func NewHub(feed Feed, log *zap.Logger, config *Config) *Hub {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		feed:   feed,
		config: cfg,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from arbitrary origins in dev.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the feed and launches the broadcast pump.
func (h *Hub) Start() {
	events := h.feed.Subscribe()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.feed.Unsubscribe(events)

		for {
			select {
			case <-h.done:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				h.broadcast(ev)
			}
		}
	}()
}

// Close disconnects all clients and stops the pump. Safe to call twice.
func (h *Hub) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	close(h.done)

	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		observability.ClientDisconnected()
	}
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}

// ServeHTTP upgrades the request and attaches the client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, h.config.SendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	observability.ClientConnected()
	h.log.Info("websocket client connected",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Int("clients", n))

	h.wg.Add(2)
	go h.writePump(c)
	go h.readPump(c)
}

// broadcast serializes the event once and queues it on every client.
// Slow clients lose the message rather than stalling the pump.
func (h *Hub) broadcast(ev cache.RefreshEvent) {
	msg := Message{
		Type:           "refresh",
		TotalCoins:     ev.TotalCoins,
		TotalMarketCap: ev.TotalMarketCap,
		TotalVolume24h: ev.TotalVolume24h,
		UpdatedAt:      ev.UpdatedAt,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal refresh event failed", zap.Error(err))
		return
	}

	dropped := 0
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			dropped++
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	observability.RecordBroadcast(dropped)
	if dropped > 0 {
		h.log.Warn("dropped refresh messages for slow clients",
			zap.Int("dropped", dropped),
			zap.Int("clients", n))
	}
}

// remove detaches a client if still registered. The returned flag tells the
// caller whether it won the removal and owns closing the send channel.
func (h *Hub) remove(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	observability.ClientDisconnected()
	return true
}

// readPump consumes inbound frames so pongs are processed, and detects
// disconnects.
func (h *Hub) readPump(c *client) {
	defer h.wg.Done()
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(h.config.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

// writePump drains the client's queue and keeps the connection alive with
// pings. A closed queue means the hub dropped the client.
func (h *Hub) writePump(c *client) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// ClientCount reports the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
