package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/driftchat/drift/internal/domain"
	"github.com/driftchat/drift/internal/store"
)

// AdminTokenHeader carries the shared admin secret.
const AdminTokenHeader = "X-Admin-Token"

// Broadcaster fans a notice out to connected users.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) int
}

// WaitingCounter reports the current waiting pool size.
type WaitingCounter interface {
	WaitingCount(ctx context.Context) (int, error)
}

// AdminHandler exposes the operator surface: stats, user list, chat log and
// broadcast. It only reads session state and fans out notices; it never
// touches pairing transitions.
type AdminHandler struct {
	repo        store.Repository
	broadcaster Broadcaster
	waiting     WaitingCounter
	token       string
	chatLogSize int
}

// NewAdminHandler creates a new admin handler. An empty token disables all
// admin routes.
func NewAdminHandler(repo store.Repository, broadcaster Broadcaster, waiting WaitingCounter, token string, chatLogSize int) *AdminHandler {
	return &AdminHandler{
		repo:        repo,
		broadcaster: broadcaster,
		waiting:     waiting,
		token:       token,
		chatLogSize: chatLogSize,
	}
}

// RegisterRoutes registers the admin routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Get("/stats", h.Stats)
		r.Get("/users", h.Users)
		r.Get("/chats", h.Chats)
		r.Post("/broadcast", h.Broadcast)
	})
}

func (h *AdminHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			Error(w, http.StatusNotFound, "admin interface disabled")
			return
		}
		got := r.Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			Error(w, http.StatusUnauthorized, "not authorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats reports user, message and pairing counts.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := h.repo.CountSessions(ctx)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to count users")
		return
	}
	messages, err := h.repo.CountMessages(ctx)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to count messages")
		return
	}
	paired, err := h.repo.CountByState(ctx, domain.StatePaired)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to count pairs")
		return
	}
	waiting, err := h.waiting.WaitingCount(ctx)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to count waiting users")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"users":        users,
		"messages":     messages,
		"waiting":      waiting,
		"active_pairs": paired / 2,
	})
}

// Users lists all known sessions.
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"users": sessions})
}

// Chats returns the most recent relayed messages, newest first.
func (h *AdminHandler) Chats(w http.ResponseWriter, r *http.Request) {
	limit := h.chatLogSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := h.repo.RecentMessages(r.Context(), limit)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load chat log")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

type broadcastRequest struct {
	Text string `json:"text"`
}

// Broadcast sends a notice to every connected user.
func (h *AdminHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	sent := h.broadcaster.Broadcast(r.Context(), req.Text)
	slog.Info("broadcast sent", "recipients", sent)
	JSON(w, http.StatusOK, map[string]interface{}{"sent": sent})
}
