package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/driftchat/drift/internal/chat"
	"github.com/driftchat/drift/internal/identity"
	"github.com/driftchat/drift/internal/store"
)

type nopSender struct{}

func (nopSender) Send(context.Context, string, chat.Event) error { return nil }

func newChatRouter(t *testing.T) (chi.Router, *chat.Service, store.Repository) {
	t.Helper()
	repo := store.NewMemory()
	svc := chat.NewService(repo, chat.NewMemoryPool(), nopSender{}, nil)
	r := chi.NewRouter()
	NewChatHandler(svc, repo).RegisterRoutes(r)
	return r, svc, repo
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(identity.WithUserID(req.Context(), userID))
}

func TestGetMe(t *testing.T) {
	r, svc, _ := newChatRouter(t)
	ctx := context.Background()

	if _, err := svc.EnsureSession(ctx, "alice"); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/me", nil), "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["user_id"] != "alice" || got["state"] != "idle" {
		t.Errorf("Unexpected body: %v", got)
	}
}

func TestGetMe_NeverExposesPartnerIdentity(t *testing.T) {
	r, svc, _ := newChatRouter(t)
	ctx := context.Background()

	if _, err := svc.Find(ctx, "alice"); err != nil {
		t.Fatalf("Find(alice) failed: %v", err)
	}
	if _, err := svc.Find(ctx, "bob"); err != nil {
		t.Fatalf("Find(bob) failed: %v", err)
	}

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/me", nil), "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "bob") {
		t.Errorf("Response leaks partner identity: %s", w.Body.String())
	}
	var got map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["state"] != "paired" {
		t.Errorf("Expected paired state, got %v", got["state"])
	}
}

func TestSetProfile(t *testing.T) {
	r, _, repo := newChatRouter(t)

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/profile",
		strings.NewReader(`{"gender": "male", "age": 25}`)), "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	sess, _ := repo.GetSession(context.Background(), "alice")
	if sess == nil || sess.Gender != "male" || sess.Age != 25 {
		t.Errorf("Expected profile saved, got %+v", sess)
	}
}

func TestSetProfile_RejectsBadAge(t *testing.T) {
	r, _, _ := newChatRouter(t)

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/profile",
		strings.NewReader(`{"age": 7}`)), "alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid age, got %d", w.Code)
	}
}
