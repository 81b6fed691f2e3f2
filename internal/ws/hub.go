// Package ws provides the WebSocket chat transport: a per-user connection
// registry and the inbound command loop.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/driftchat/drift/internal/chat"
)

const writeTimeout = 10 * time.Second

// Hub manages active WebSocket connections, one per user. It is the
// messaging transport the chat service delivers through: Send reports
// chat.ErrUnreachable when the user has no connection or the write fails.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

var _ chat.Sender = (*Hub)(nil)

// NewHub creates a new connection hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*websocket.Conn),
	}
}

// Register adds a connection for a user. An existing connection for the
// same user is closed and replaced.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, exists := h.conns[userID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.conns[userID] = conn
	slog.Info("chat connection registered", "user_id", userID)
}

// Unregister removes a connection for a user, reporting whether it was the
// user's current one. A connection that was already replaced is left alone
// and reported false: the user is still online through the newer connection.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, exists := h.conns[userID]; exists && current == conn {
		delete(h.conns, userID)
		slog.Info("chat connection unregistered", "user_id", userID)
		return true
	}
	return false
}

// Connected reports whether a user currently has a connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// Send delivers an event to a user's connection.
func (h *Hub) Send(ctx context.Context, userID string, ev chat.Event) error {
	h.mu.RLock()
	conn, ok := h.conns[userID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no connection for %s: %w", userID, chat.ErrUnreachable)
	}

	frame := outboundFromEvent(ev)
	if err := h.writeJSON(ctx, conn, frame); err != nil {
		slog.Debug("websocket write failed", "user_id", userID, "error", err)
		return fmt.Errorf("write to %s: %w", userID, chat.ErrUnreachable)
	}
	return nil
}

// Broadcast fans a notice out to every connected user. Returns the number
// of users reached; failed writes are skipped, not retried.
func (h *Hub) Broadcast(ctx context.Context, text string) int {
	h.mu.RLock()
	conns := make(map[string]*websocket.Conn, len(h.conns))
	for id, conn := range h.conns {
		conns[id] = conn
	}
	h.mu.RUnlock()

	frame := outbound{Type: "broadcast", Text: text}
	sent := 0
	for userID, conn := range conns {
		if err := h.writeJSON(ctx, conn, frame); err != nil {
			slog.Debug("broadcast write failed", "user_id", userID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
