package handlers

import (
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// Event is a one-way change notification pushed to connected clients so their
// local stores can reconcile without polling. This is not a sync protocol:
// clients treat events as hints and the REST surface stays authoritative.
type Event struct {
	Type           string      `json:"type"` // conversation.created, conversation.updated, conversation.deleted, message.created
	UserID         string      `json:"user_id"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
}

// subscriber pairs a connection with the lock serializing its writes. The
// underlying websocket permits only one writer at a time, and Broadcast is
// called from arbitrary request goroutines.
type subscriber struct {
	userID string
	mu     sync.Mutex
}

// Hub fans events out to websocket subscribers, keyed by user id.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]*subscriber
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]*subscriber)}
}

func (h *Hub) add(conn *websocket.Conn, userID string) {
	h.mu.Lock()
	h.conns[conn] = &subscriber{userID: userID}
	h.mu.Unlock()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// Broadcast sends the event to every connection belonging to its user. Each
// write holds the subscriber's lock so overlapping broadcasts never interleave
// frames on the same connection. Send failures just drop the connection; the
// client reconnects and reloads.
func (h *Hub) Broadcast(evt Event) {
	type target struct {
		conn *websocket.Conn
		sub  *subscriber
	}

	h.mu.RLock()
	targets := make([]target, 0, len(h.conns))
	for conn, sub := range h.conns {
		if sub.userID == evt.UserID {
			targets = append(targets, target{conn: conn, sub: sub})
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.sub.mu.Lock()
		err := t.conn.WriteJSON(evt)
		t.sub.mu.Unlock()
		if err != nil {
			slog.Debug("event push failed, dropping connection", "error", err)
			h.remove(t.conn)
			t.conn.Close()
		}
	}
}

// UpgradeCheck rejects plain HTTP requests on the websocket route.
func (h *Hub) UpgradeCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Handle keeps the connection registered until the peer goes away. Inbound
// frames are read only to detect close.
func (h *Hub) Handle() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("user_id").(string)
		if userID == "" {
			userID = conn.Query("userId")
		}
		if userID == "" {
			conn.Close()
			return
		}

		h.add(conn, userID)
		defer func() {
			h.remove(conn)
			conn.Close()
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}
