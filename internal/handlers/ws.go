package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/waveroom/backend/internal/config"
	"github.com/waveroom/backend/internal/logging"
	"github.com/waveroom/backend/internal/middleware"
	"github.com/waveroom/backend/internal/room"
	"github.com/waveroom/backend/internal/services"
)

// WSHandler upgrades authenticated participants onto a room's sync channel.
type WSHandler struct {
	queries     roomQueries
	authService *services.AuthService
	hub         *room.Hub
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a WSHandler. Origin checks honour the same allowlist
// as the CORS middleware.
func NewWSHandler(cfg *config.Config, queries roomQueries, authService *services.AuthService, hub *room.Hub) *WSHandler {
	allowed := make(map[string]bool, len(cfg.CORSAllowedOrigins))
	for _, origin := range cfg.CORSAllowedOrigins {
		allowed[origin] = true
	}

	return &WSHandler{
		queries:     queries,
		authService: authService,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return allowed["*"] || allowed[origin]
			},
		},
	}
}

// Connect authenticates the request, upgrades it to a websocket, and attaches
// the participant to the room. Browsers cannot set headers on websocket
// handshakes, so the token may also arrive as a query parameter.
func (h *WSHandler) Connect(w http.ResponseWriter, r *http.Request) {
	tokenString := middleware.TokenFromRequest(r)
	if tokenString == "" {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventMissingAuth, "websocket handshake without token")
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	claims, err := h.authService.ValidateToken(tokenString)
	if err != nil {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidJWT, "websocket handshake with invalid token")
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	roomID := chi.URLParam(r, "id")
	if claims.RoomID != roomID {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventRoomMismatch, "websocket token bound to a different room")
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	rec, err := h.queries.GetRoomByID(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes its own response on failure
		slog.Warn("websocket upgrade failed",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()))
		return
	}

	// Attach queues the connected handshake before the session is visible
	// to broadcasts, so the snapshot is always the first message out.
	sess, _, _, err := h.hub.Attach(room.Info{
		ID:          rec.ID,
		HostID:      rec.HostID,
		ControlMode: room.ControlMode(rec.ControlMode),
	}, room.Profile{
		TelegramID: claims.TelegramID,
		Name:       claims.Name,
		AvatarURL:  claims.AvatarURL,
	})
	if err != nil {
		conn.WriteJSON(room.ServerMessage{Event: room.EventError, Message: err.Error()})
		conn.Close()
		return
	}

	slog.Info("participant attached",
		slog.String("room_id", roomID),
		slog.Int64("telegram_id", claims.TelegramID),
		slog.String("role", string(claims.Role)))

	sess.Run(conn)
}
