// Package viewer relays published session events to browser clients over websockets.
package viewer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"case-study-live-eval/internal/observability/logging"
)

// Event is one bus message forwarded to clients. Payload is the original JSON body.
type Event struct {
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

type client struct {
	conn      *websocket.Conn
	sessionID string // empty receives every session
}

// Hub manages WebSocket connections.
type Hub struct {
	broadcast  chan Event
	register   chan *client
	unregister chan *websocket.Conn
	log        zerolog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Event, 100),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
		log:        logging.WithComponent("viewer.hub"),
		clients:    make(map[*websocket.Conn]*client),
	}
}

// Run delivers events until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info().Int("clients", n).Str("sessionId", c.sessionID).Msg("Viewer connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info().Int("clients", n).Msg("Viewer disconnected")

		case ev := <-h.broadcast:
			h.mu.Lock()
			for conn, c := range h.clients {
				if c.sessionID != "" && c.sessionID != ev.SessionID {
					continue
				}
				if err := conn.WriteJSON(ev); err != nil {
					h.log.Warn().Err(err).Msg("Viewer write failed")
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues ev for delivery. It blocks when the buffer is full.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	select {
	case h.broadcast <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // viewers are served from any local origin
	},
}

// ServeWS upgrades the request. ?sessionId= restricts the stream to one session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.register <- &client{conn: conn, sessionID: r.URL.Query().Get("sessionId")}

	// read until the client goes away
	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
