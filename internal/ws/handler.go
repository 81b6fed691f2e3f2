package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/driftchat/drift/internal/chat"
	"github.com/driftchat/drift/internal/identity"
)

// Handler upgrades chat connections and dispatches client commands to the
// chat service.
type Handler struct {
	svc           *chat.Service
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new WebSocket chat handler.
func NewHandler(svc *chat.Service, hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		svc:           svc,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("chat connection request", "user_id", userID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.hub.Register(userID, conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if _, err := h.svc.EnsureSession(ctx, userID); err != nil {
		slog.Error("failed to ensure session", "error", err, "user_id", userID)
		h.writeError(ctx, conn, "internal", "something went wrong")
		h.hub.Unregister(userID, conn)
		return
	}

	h.readLoop(ctx, conn, userID)

	// A connection replaced by a newer one from the same user exits its
	// read loop while the user is still online; only the current
	// connection's close means the user actually left.
	if !h.hub.Unregister(userID, conn) {
		slog.Info("chat connection replaced", "user_id", userID)
		return
	}

	// The user dropped off: leave the pool, tear down any pairing.
	disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), writeTimeout)
	defer disconnectCancel()
	if err := h.svc.Disconnect(disconnectCtx, userID); err != nil {
		slog.Warn("disconnect cleanup failed", "error", err, "user_id", userID)
	}
	slog.Info("chat connection ended", "user_id", userID)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, userID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("websocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("websocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var cmd inbound
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.writeError(ctx, conn, "bad_frame", "could not parse command")
			continue
		}

		h.dispatch(ctx, conn, userID, cmd)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *websocket.Conn, userID string, cmd inbound) {
	switch cmd.Type {
	case "find":
		res, err := h.svc.Find(ctx, userID)
		if err != nil {
			h.writeChatError(ctx, conn, userID, err)
			return
		}
		if !res.Matched {
			h.write(ctx, conn, userID, outbound{Type: "waiting", Text: "Waiting for a partner..."})
		}
		// On a match both sides are notified through the hub by the service.

	case "message":
		text := strings.TrimSpace(cmd.Text)
		if text == "" {
			return
		}
		if err := h.svc.Deliver(ctx, userID, text); err != nil {
			h.writeChatError(ctx, conn, userID, err)
		}

	case "typing":
		if err := h.svc.Typing(ctx, userID); err != nil && !errors.Is(err, chat.ErrNotConnected) {
			slog.Debug("typing dispatch failed", "error", err, "user_id", userID)
		}

	case "end":
		summary, err := h.svc.End(ctx, userID)
		if err != nil {
			h.writeChatError(ctx, conn, userID, err)
			return
		}
		h.write(ctx, conn, userID, outboundSummary(summary))

	case "cancel":
		cancelled, err := h.svc.Cancel(ctx, userID)
		if err != nil {
			h.writeChatError(ctx, conn, userID, err)
			return
		}
		if cancelled {
			h.write(ctx, conn, userID, outbound{Type: "cancelled", Text: "Search cancelled."})
		}

	default:
		h.writeError(ctx, conn, "bad_frame", "unknown command: "+cmd.Type)
	}
}

// writeChatError maps the chat error taxonomy onto wire codes.
func (h *Handler) writeChatError(ctx context.Context, conn *websocket.Conn, userID string, err error) {
	var code, text string
	switch {
	case errors.Is(err, chat.ErrAlreadyPaired):
		code, text = "already_paired", "You are already in a chat. Use end first."
	case errors.Is(err, chat.ErrNotConnected):
		code, text = "not_connected", "You are not connected. Use find to start."
	case errors.Is(err, chat.ErrNotInChat):
		code, text = "not_in_chat", "You are not in a chat."
	case errors.Is(err, chat.ErrPartnerUnreachable):
		code, text = "partner_unreachable", "Your partner is unreachable. The chat has ended."
	default:
		slog.Error("chat operation failed", "error", err, "user_id", userID)
		code, text = "internal", "something went wrong"
	}
	h.write(ctx, conn, userID, outbound{Type: "error", Code: code, Text: text})
}

func (h *Handler) writeError(ctx context.Context, conn *websocket.Conn, code, text string) {
	h.write(ctx, conn, "", outbound{Type: "error", Code: code, Text: text})
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, userID string, frame outbound) {
	if err := h.hub.writeJSON(ctx, conn, frame); err != nil {
		slog.Debug("failed to write frame", "error", err, "user_id", userID)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || h.allowedOrigin == "" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
