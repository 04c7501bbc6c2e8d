// Package ws pushes live agent events to browser clients over WebSocket.
// Events arrive from the Redis signal bus; each client chooses which event
// names it wants (all by default).
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256

	// subscribePattern matches every event channel.
	subscribePattern = "sentinel:*"
	allEvents        = "*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware for the REST API; the
	// dashboard may be served from a different host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config tunes the hub.
type Config struct {
	Mode string
	// ReplayCount is how many recent events a new client receives.
	ReplayCount int
	StartedAt   time.Time
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is sent by clients to change their event selection, e.g.
// {"action":"subscribe","events":["trade:executed"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// Hub fans events from the signal bus out to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	quit       chan struct{}
	bus        domain.SignalBus
	cfg        Config
	mu         sync.RWMutex
	logger     *slog.Logger
}

type broadcastMsg struct {
	event string
	data  []byte
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if strings.TrimSpace(cfg.Mode) == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	if cfg.ReplayCount < 0 {
		cfg.ReplayCount = 0
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		quit:       make(chan struct{}),
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run subscribes to the event channels and serves registrations and
// broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribe(ctx)
	defer close(h.quit)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.event) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client", slog.String("event", msg.event))
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) subscribe(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, subscribePattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe",
			slog.String("channel", subscribePattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed", slog.String("channel", subscribePattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("channel", subscribePattern))
				return
			}
			var env domain.Envelope
			if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
				h.logger.Warn("ws: dropping malformed event")
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{event: string(env.Event), data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. The client first
// receives a connected frame and the most recent events.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{allEvents: true},
	}

	c.queue(h.connectedFrame())
	for _, frame := range h.history(r.Context()) {
		c.queue(frame)
	}
	select {
	case h.register <- c:
	case <-h.quit:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) connectedFrame() []byte {
	payload, _ := json.Marshal(map[string]any{
		"message":       "Connected to DeepSentinel",
		"mode":          h.cfg.Mode,
		"uptimeSeconds": int64(time.Since(h.cfg.StartedAt).Seconds()),
	})
	frame, _ := json.Marshal(domain.Envelope{
		Event:     "connected",
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	return frame
}

// history returns the replay frames, oldest first.
func (h *Hub) history(ctx context.Context) [][]byte {
	if h.cfg.ReplayCount == 0 {
		return nil
	}
	msgs, err := h.bus.StreamRevRange(ctx, domain.EventStream, h.cfg.ReplayCount)
	if err != nil {
		h.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		return nil
	}
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Payload)
	}
	slices.Reverse(out)
	return out
}

func (c *client) queue(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		// An explicit selection replaces the catch-all.
		delete(c.subs, allEvents)
		for _, e := range msg.Events {
			c.subs[e] = true
		}
	case "unsubscribe":
		for _, e := range msg.Events {
			delete(c.subs, e)
		}
	}
}

func (c *client) isSubscribed(event string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allEvents] || c.subs[event]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
