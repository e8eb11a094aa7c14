package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event types broadcast over the presence socket.
const (
	EventProjectUpdated = "project_updated"
	EventProjectDeleted = "project_deleted"
	EventPing           = "ping"
)

// Event is one presence-socket message. Clients use the stream both as
// a connectivity signal (any traffic means the server is up) and as a
// change feed for projects they have cached.
type Event struct {
	Type      string    `json:"type"`
	ProjectID string    `json:"project_id,omitempty"`
	Version   int64     `json:"version,omitempty"`
	At        time.Time `json:"at"`
}

// pingInterval is how often the hub emits a keepalive to idle clients.
const pingInterval = 30 * time.Second

// Hub fans project events out to connected websocket clients.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	events chan Event
}

// NewHub creates a hub. Run must be started for broadcasts to flow.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan Event, 64),
	}
}

// Broadcast queues an event for delivery. A full queue drops the event:
// the socket is advisory and clients re-fetch on demand.
func (h *Hub) Broadcast(evt Event) {
	select {
	case h.events <- evt:
	default:
		h.logger.Warn("event queue full, dropping broadcast", "type", evt.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Run delivers queued events and periodic pings until ctx is canceled,
// then closes every client connection.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()

			return nil

		case <-ticker.C:
			h.deliver(Event{Type: EventPing, At: time.Now().UTC()})

		case evt := <-h.events:
			h.deliver(evt)
		}
	}
}

// HandleWS upgrades the request and registers the client. The read loop
// only watches for disconnects; clients do not send anything.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)

		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("presence client connected", "clients", count)

	go h.readLoop(r.Context(), conn)
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer h.remove(conn)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// deliver writes one event to every client, dropping clients whose
// writes fail.
func (h *Hub) deliver(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("marshaling event", "error", err)

		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			h.remove(conn)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()

	if _, ok := h.clients[conn]; !ok {
		h.mu.Unlock()

		return
	}

	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")

	h.logger.Debug("presence client disconnected", "clients", count)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
