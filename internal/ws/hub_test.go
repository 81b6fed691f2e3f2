package ws

import (
	"context"
	"errors"
	"testing"

	"github.com/coder/websocket"

	"github.com/driftchat/drift/internal/chat"
)

func TestHub_Register(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}

	hub.Register("alice", conn)

	if !hub.Connected("alice") {
		t.Error("Expected alice connected after Register")
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}

	hub.Register("alice", conn)

	if !hub.Unregister("alice", conn) {
		t.Error("Expected Unregister of the current connection to report true")
	}
	if hub.Connected("alice") {
		t.Error("Expected alice disconnected after Unregister")
	}
}

func TestHub_UnregisterStale(t *testing.T) {
	hub := NewHub()
	current := &websocket.Conn{}
	stale := &websocket.Conn{}

	hub.Register("alice", current)

	// A late unregister from a connection that no longer owns the slot
	// must not drop the current one, and must report that the user is
	// still online.
	if hub.Unregister("alice", stale) {
		t.Error("Expected stale unregister to report false")
	}

	if !hub.Connected("alice") {
		t.Error("Expected current connection to survive stale unregister")
	}
}

func TestHub_SendWithoutConnectionIsUnreachable(t *testing.T) {
	hub := NewHub()

	err := hub.Send(context.Background(), "nobody", chat.Event{Kind: chat.EventMessage, Body: "hi"})
	if !errors.Is(err, chat.ErrUnreachable) {
		t.Errorf("Expected ErrUnreachable, got %v", err)
	}
}

func TestHub_BroadcastSkipsNobody(t *testing.T) {
	hub := NewHub()

	if sent := hub.Broadcast(context.Background(), "hello"); sent != 0 {
		t.Errorf("Expected 0 recipients on empty hub, got %d", sent)
	}
}
