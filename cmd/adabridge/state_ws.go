package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Status WebSocket: hub + per-client pumps
// ============================================================================
//
// Every snapshot the reporter publishes to the bus is mirrored here for local
// observers ("adabridge watch", dashboards).
//
//   - The hub owns the client set and the last encoded frame.
//   - A newly registered client gets the last frame immediately.
//   - Slow clients are disconnected when their send buffer fills.
//   - Frames are JSON text with an envelope: {"type":"status","ts":...,"data":{...}}.
//
// ============================================================================

const wsTypeStatus = "status"

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// Hub fans status frames out to websocket clients.
type Hub struct {
	logger *slog.Logger

	updates    chan StatusSnapshot
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.Mutex
	clients map[*Client]struct{}
	last    []byte

	sendBuf int
	now     func() time.Time
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. Zero means 16.
	SendBuf int
	// UpdateBuf is the inbound snapshot queue size. Zero means 32.
	UpdateBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 16
	}
	if cfg.UpdateBuf <= 0 {
		cfg.UpdateBuf = 32
	}
	return &Hub{
		logger:     logger,
		updates:    make(chan StatusSnapshot, cfg.UpdateBuf),
		register:   make(chan *Client),
		unregister: make(chan *Client, 16),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PublishStatus enqueues a snapshot for broadcast. It never blocks; when the
// queue is full the snapshot is dropped (the next report supersedes it).
func (h *Hub) PublishStatus(snap StatusSnapshot) {
	select {
	case h.updates <- snap:
	default:
		h.logger.Warn("ws hub queue full, dropping status")
	}
}

// Run processes hub events until ctx is canceled, then disconnects everyone.
// It must be called at most once.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Debug("ws hub starting")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			h.logger.Debug("ws hub stopped")
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			last := h.last
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)
			if last != nil {
				h.deliver(c, last)
			}

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case snap := <-h.updates:
			frame, err := h.encode(snap)
			if err != nil {
				h.logger.Warn("ws status marshal failed", "error", err)
				continue
			}
			h.mu.Lock()
			h.last = frame
			targets := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.Unlock()

			for _, c := range targets {
				h.deliver(c, frame)
			}
		}
	}
}

func (h *Hub) encode(snap StatusSnapshot) ([]byte, error) {
	ts := h.now()
	return json.Marshal(envelope{Type: wsTypeStatus, Ts: &ts, Data: snap})
}

// deliver enqueues without blocking and evicts clients that can't keep up.
func (h *Hub) deliver(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.removeClient(c, "slow_client")
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// Client is one websocket subscriber.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce  sync.Once
	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(conn *websocket.Conn, sendBuf int, remoteAddr string, logger *slog.Logger) *Client {
	return &Client{
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// close closes the connection and signals writePump to exit. Idempotent.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("write", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("ping", err)
				return
			}
		}
	}
}

// readPump discards client frames; it only exists to process control frames
// and notice disconnects.
func (c *Client) readPump(h *Hub) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read", err)
			select {
			case h.unregister <- c:
			default:
				// Hub is gone or backed up; eviction on the next delivery covers it.
			}
			return
		}
	}
}

func (c *Client) logExit(op string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("ws pump exiting (close)", "op", op, "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Debug("ws pump exiting", "op", op, "remote_addr", c.remoteAddr, "error", err)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades status websocket requests and registers the client.
// Pump lifetimes are tied to the connection, not to the request context.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("ws upgrade failed", "error", err)
			return
		}
		c := NewClient(conn, h.sendBuf, r.RemoteAddr, h.logger)
		go c.writePump()
		go c.readPump(h)
		select {
		case h.register <- c:
		case <-h.done:
			c.close()
		}
	})
}
