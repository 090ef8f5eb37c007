package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event is broadcast to every connected panel view whenever a session
// mutates, so multiple open views of the same character stay in sync.
type Event struct {
	ID        string    `json:"id"`
	Character string    `json:"character"`
	Field     string    `json:"field,omitempty"`
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
}

// eventHub fans session events out over WebSocket connections.
type eventHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		upgrader: websocket.Upgrader{
			// The panel runs inside the host application's origin, which
			// is not ours to predict; the API binds locally.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(map[*websocket.Conn]bool),
	}
}

// handleWS upgrades the connection and keeps it registered until the
// peer goes away. Inbound messages are drained and ignored; the feed is
// one-way.
func (h *eventHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *eventHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

// broadcast sends an event to every connected panel. The hub mutex is
// held across the writes: the websocket package allows at most one
// concurrent writer per connection, so writes from concurrent handler
// goroutines must be serialized. Write failures drop the connection;
// the panel reconnects on its own.
func (h *eventHub) broadcast(character, field, kind string) {
	ev := Event{
		ID:        uuid.NewString(),
		Character: character,
		Field:     field,
		Kind:      kind,
		At:        time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteJSON(ev); err != nil {
			h.logger.Debug("dropping websocket client", "error", err)
			delete(h.conns, c)
			c.Close()
		}
	}
}
