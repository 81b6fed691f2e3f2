package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/driftchat/drift/internal/chat"
	"github.com/driftchat/drift/internal/identity"
	"github.com/driftchat/drift/internal/store"
)

const testUserHeader = "X-Test-User"

// newTestServer serves the chat handler with identities taken from a request
// header instead of the cookie middleware. The returned channel reports the
// user ID of every handler invocation that finishes.
func newTestServer(t *testing.T) (*httptest.Server, *chat.Service, *store.MemoryStore, *Hub, chan string) {
	t.Helper()

	repo := store.NewMemory()
	pool := chat.NewMemoryPool()
	hub := NewHub()
	svc := chat.NewService(repo, pool, hub, nil)
	handler := NewHandler(svc, hub, "", true)

	finished := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(testUserHeader)
		handler.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), userID)))
		finished <- userID
	}))
	t.Cleanup(srv.Close)

	return srv, svc, repo, hub, finished
}

func dialChat(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hdr := http.Header{}
	hdr.Set(testUserHeader, userID)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		HTTPHeader: hdr,
	})
	if err != nil {
		t.Fatalf("Dial for %s failed: %v", userID, err)
	}
	return conn
}

func waitConnected(t *testing.T, hub *Hub, userID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Connected(userID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s to register", userID)
}

func readFrame(t *testing.T, conn *websocket.Conn, wantType string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var frame outbound
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Unmarshal of %s failed: %v", data, err)
	}
	if frame.Type != wantType {
		t.Fatalf("Expected %s frame, got %s", wantType, frame.Type)
	}
}

func TestHandler_ReconnectKeepsPairing(t *testing.T) {
	srv, svc, repo, hub, finished := newTestServer(t)
	ctx := context.Background()

	aliceOld := dialChat(t, srv, "alice")
	defer aliceOld.Close(websocket.StatusNormalClosure, "")
	bob := dialChat(t, srv, "bob")
	defer bob.Close(websocket.StatusNormalClosure, "")
	waitConnected(t, hub, "alice")
	waitConnected(t, hub, "bob")

	if _, err := svc.Find(ctx, "alice"); err != nil {
		t.Fatalf("Find(alice) failed: %v", err)
	}
	res, err := svc.Find(ctx, "bob")
	if err != nil || !res.Matched {
		t.Fatalf("Find(bob) failed: matched=%v err=%v", res.Matched, err)
	}
	readFrame(t, bob, "matched")

	// Alice reconnects. The hub replaces her old connection, whose handler
	// exits; her session and her partner must be untouched.
	aliceNew := dialChat(t, srv, "alice")
	defer aliceNew.Close(websocket.StatusNormalClosure, "")

	select {
	case id := <-finished:
		if id != "alice" {
			t.Fatalf("Expected the replaced alice handler to finish first, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the replaced connection's handler to exit")
	}

	sess, err := repo.GetSession(ctx, "alice")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !sess.IsPaired() {
		t.Errorf("Expected alice still paired after reconnect, got state %s", sess.State)
	}
	if !hub.Connected("alice") {
		t.Error("Expected alice online through the new connection")
	}

	// Bob must not have been told his partner left.
	readCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if _, data, err := bob.Read(readCtx); err == nil {
		t.Errorf("Expected no further frames for bob, got %s", data)
	}
}

func TestHandler_DisconnectTearsDownPairing(t *testing.T) {
	srv, svc, repo, hub, finished := newTestServer(t)
	ctx := context.Background()

	alice := dialChat(t, srv, "alice")
	defer alice.Close(websocket.StatusNormalClosure, "")
	bob := dialChat(t, srv, "bob")
	defer bob.Close(websocket.StatusNormalClosure, "")
	waitConnected(t, hub, "alice")
	waitConnected(t, hub, "bob")

	if _, err := svc.Find(ctx, "alice"); err != nil {
		t.Fatalf("Find(alice) failed: %v", err)
	}
	if _, err := svc.Find(ctx, "bob"); err != nil {
		t.Fatalf("Find(bob) failed: %v", err)
	}
	readFrame(t, bob, "matched")

	// A genuine close still ends the pairing and notifies the partner.
	_ = alice.Close(websocket.StatusNormalClosure, "bye")

	select {
	case id := <-finished:
		if id != "alice" {
			t.Fatalf("Expected alice's handler to finish, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for alice's handler to exit")
	}

	readFrame(t, bob, "partner_left")

	sess, _ := repo.GetSession(ctx, "bob")
	if sess.State != "idle" {
		t.Errorf("Expected bob idle after partner disconnect, got %s", sess.State)
	}
}
