// Package realtime fans room, group, and voting events out to websocket
// subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is the wire envelope delivered to subscribers of a scope.
type Event struct {
	Scope     string    `json:"scope"`
	Event     string    `json:"event"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks connected clients per scope and broadcasts events to them.
// Delivery is best effort; slow clients are disconnected rather than allowed
// to stall the loop.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	done       chan struct{}

	logger   *slog.Logger
	now      func() time.Time
	upgrader websocket.Upgrader
}

// NewHub constructs a hub. Run must be called before clients connect.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
		logger:     logger,
		now:        time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run processes registrations and broadcasts until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case event := <-h.broadcast:
			h.deliver(event)
		case <-ctx.Done():
			// Closing done releases pumps blocked on register/unregister
			// after the loop stops draining them.
			h.closeAll()
			close(h.done)
			return
		}
	}
}

// Publish implements the event sink used by the services. It never blocks:
// when the broadcast buffer is full the event is dropped and logged.
func (h *Hub) Publish(scope, event string, payload any) {
	msg := Event{Scope: scope, Event: event, Payload: payload, Timestamp: h.now().UTC()}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast buffer full, dropping event", "scope", scope, "event", event)
	}
}

// SubscriberCount reports how many clients are attached to a scope.
func (h *Hub) SubscriberCount(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[scope])
}

// ServeWS upgrades the request to a websocket subscribed to the scope named
// by the "scope" query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		http.Error(w, "missing scope parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, 64),
		scope: scope,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.scope] == nil {
		h.clients[client.scope] = make(map[*Client]bool)
	}
	h.clients[client.scope][client] = true
	h.logger.Debug("client subscribed", "scope", client.scope, "subscribers", len(h.clients[client.scope]))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	scoped, ok := h.clients[client.scope]
	if !ok || !scoped[client] {
		return
	}
	delete(scoped, client)
	close(client.send)
	if len(scoped) == 0 {
		delete(h.clients, client.scope)
	}
	h.logger.Debug("client unsubscribed", "scope", client.scope, "subscribers", len(scoped))
}

func (h *Hub) deliver(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", "scope", event.Scope, "event", event.Event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	scoped := h.clients[event.Scope]
	for client := range scoped {
		select {
		case client.send <- payload:
		default:
			delete(scoped, client)
			close(client.send)
		}
	}
	if len(scoped) == 0 {
		delete(h.clients, event.Scope)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for scope, scoped := range h.clients {
		for client := range scoped {
			close(client.send)
		}
		delete(h.clients, scope)
	}
}
