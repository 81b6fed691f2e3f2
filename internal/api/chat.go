package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driftchat/drift/internal/chat"
	"github.com/driftchat/drift/internal/identity"
	"github.com/driftchat/drift/internal/store"
)

// ChatHandler exposes the non-realtime chat surface: own session state and
// profile updates. The realtime path lives on the websocket.
type ChatHandler struct {
	svc  *chat.Service
	repo store.Repository
}

// NewChatHandler creates a new chat API handler.
func NewChatHandler(svc *chat.Service, repo store.Repository) *ChatHandler {
	return &ChatHandler{svc: svc, repo: repo}
}

// RegisterRoutes registers the chat API routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Post("/profile", h.SetProfile)
	})
}

// GetMe returns the caller's own session state. The partner's identity is
// never exposed; only whether a partner exists.
func (h *ChatHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	sess, err := h.repo.GetSession(r.Context(), userID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "unknown user")
		return
	}

	resp := map[string]interface{}{
		"user_id":   sess.UserID,
		"state":     sess.State,
		"joined_at": sess.JoinedAt,
	}
	if sess.Gender != "" {
		resp["gender"] = sess.Gender
	}
	if sess.Age != 0 {
		resp["age"] = sess.Age
	}
	if sess.IsPaired() {
		resp["chat_duration_secs"] = int64(sess.ChatDuration(time.Now()) / time.Second)
		resp["messages_sent"] = sess.MessagesSent
	}
	JSON(w, http.StatusOK, resp)
}

type profileRequest struct {
	Gender string `json:"gender"`
	Age    int    `json:"age"`
}

// SetProfile stores cosmetic profile fields for the caller.
func (h *ChatHandler) SetProfile(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Gender) > 32 {
		Error(w, http.StatusBadRequest, "gender too long")
		return
	}

	if err := h.svc.SetProfile(r.Context(), userID, req.Gender, req.Age); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
