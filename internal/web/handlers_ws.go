package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"zigbee-valve/internal/node"
)

// eventStatus is the type of the snapshot sent to a client when it connects.
const eventStatus node.EventType = "status"

const (
	wsSendBuffer   = 64
	wsQueueSize    = 256
	wsWriteTimeout = 10 * time.Second
)

// WSHub fans node events out to websocket clients. A client whose buffer is
// full is dropped rather than slowing the others down.
type WSHub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	join  chan *wsClient
	leave chan *wsClient
	queue chan node.Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[node.EventType]bool // nil means every type
}

func (c *wsClient) wants(t node.EventType) bool {
	return c.types == nil || c.types[t]
}

// NewWSHub creates a hub. Run must be started before clients join.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
		join:    make(chan *wsClient),
		leave:   make(chan *wsClient),
		queue:   make(chan node.Event, wsQueueSize),
		done:    make(chan struct{}),
	}
}

// Run serves the hub until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			return
		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "total", n)
		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.dropLocked(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "total", n)
		case ev := <-h.queue:
			h.fanOut(ev)
		}
	}
}

func (h *WSHub) fanOut(ev node.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("ws marshal", "type", ev.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(ev.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropLocked(c)
			h.logger.Warn("ws client evicted (too slow)")
		}
	}
}

func (h *WSHub) dropLocked(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
}

// Stop shuts the hub down and closes every client. Safe to call repeatedly.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues ev for every interested client. It never blocks; events
// are dropped when the queue is full.
func (h *WSHub) Broadcast(ev node.Event) {
	select {
	case h.queue <- ev:
	default:
		h.logger.Warn("ws queue full, dropping event", "type", ev.Type)
	}
}

// parseTypes reads the optional comma separated ?types= filter.
func parseTypes(q string) map[node.EventType]bool {
	if q == "" {
		return nil
	}
	types := make(map[node.EventType]bool)
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[node.EventType(t)] = true
		}
	}
	return types
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(4096)

	c := &wsClient{
		conn:  conn,
		send:  make(chan []byte, wsSendBuffer),
		types: parseTypes(r.URL.Query().Get("types")),
	}
	// Nothing else holds the channel yet, so the snapshot is always first.
	if snap, err := json.Marshal(node.Event{Type: eventStatus, Time: time.Now(), Data: s.node.Status()}); err == nil {
		c.send <- snap
	}

	select {
	case s.wsHub.join <- c:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWriter(c)
	s.wsReader(c)
}

func (s *Server) wsWriter(c *wsClient) {
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReader drains the connection until it fails or the hub stops. Clients
// only listen; anything they send is discarded.
func (s *Server) wsReader(c *wsClient) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		select {
		case s.wsHub.leave <- c:
		case <-s.wsHub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
