package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/waveroom/backend/internal/crypto"
	"github.com/waveroom/backend/internal/db"
	"github.com/waveroom/backend/internal/logging"
	"github.com/waveroom/backend/internal/middleware"
	"github.com/waveroom/backend/internal/models"
	"github.com/waveroom/backend/internal/room"
	"github.com/waveroom/backend/internal/services"
)

// roomQueries is the subset of db.Queries the room handlers use.
type roomQueries interface {
	CreateRoom(ctx context.Context, arg db.CreateRoomParams) (db.Room, error)
	GetRoomByID(ctx context.Context, id string) (db.Room, error)
	ListAllRooms(ctx context.Context) ([]db.Room, error)
	UpdateRoomControlMode(ctx context.Context, arg db.UpdateRoomControlModeParams) error
	DeleteRoom(ctx context.Context, id string) (sql.Result, error)
}

// liveHub is the sync-core surface the registry handlers drive.
type liveHub interface {
	OnlineCount(roomID string) int
	UpdateSettings(roomID string, mode room.ControlMode)
	CloseRoom(roomID, message string)
}

// RoomHandler manages room lifecycle: creation, joining, settings, deletion.
type RoomHandler struct {
	queries     roomQueries
	authService *services.AuthService
	inviteCodes *services.InviteCodeService
	hub         liveHub
}

// NewRoomHandler creates a RoomHandler with the required dependencies.
func NewRoomHandler(queries roomQueries, authService *services.AuthService, inviteCodes *services.InviteCodeService, hub liveHub) *RoomHandler {
	return &RoomHandler{
		queries:     queries,
		authService: authService,
		inviteCodes: inviteCodes,
		hub:         hub,
	}
}

// Create registers a new room with the caller as host.
// Returns the room ID, invite code, and host JWT token.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.DisplayName == "" || req.User.TelegramID == 0 || req.User.Name == "" {
		writeError(w, http.StatusBadRequest, "displayName and user identity are required")
		return
	}

	if req.ControlMode == "" {
		req.ControlMode = string(room.ControlModeEveryone)
	}
	if !room.ValidControlMode(req.ControlMode) {
		writeError(w, http.StatusBadRequest, "controlMode must be 'everyone' or 'host-only'")
		return
	}

	inviteCode, err := h.inviteCodes.Generate(r.Context())
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate invite code", err)
		return
	}

	created, err := h.queries.CreateRoom(r.Context(), db.CreateRoomParams{
		ID:          uuid.New().String(),
		DisplayName: req.DisplayName,
		InviteCode:  inviteCode,
		ControlMode: req.ControlMode,
		HostID:      req.User.TelegramID,
		HostName:    req.User.Name,
	})
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to create room", err)
		return
	}

	token, err := h.authService.GenerateToken(created.ID, req.User.TelegramID, req.User.Name, req.User.AvatarURL, services.RoleHost)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}

	writeJSON(w, http.StatusCreated, models.CreateRoomResponse{
		RoomID:     created.ID,
		InviteCode: created.InviteCode,
		Token:      token,
	})
}

// Join admits a participant into a room via the shared invite code.
// The code is hashed client-side before being sent for comparison.
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req models.JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.InviteCodeHash == "" {
		writeError(w, http.StatusBadRequest, "inviteCodeHash is required")
		return
	}
	if req.User.TelegramID == 0 || req.User.Name == "" {
		writeError(w, http.StatusBadRequest, "user identity is required")
		return
	}

	// Find the room by comparing hashed invite codes
	rooms, err := h.queries.ListAllRooms(r.Context())
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to fetch rooms", err)
		return
	}

	var matched *db.Room
	for i := range rooms {
		hash, err := crypto.HashInviteCode(rooms[i].InviteCode)
		if err != nil {
			slog.Error("failed to hash invite code", slog.String("error", err.Error()))
			continue
		}
		if hash == req.InviteCodeHash {
			matched = &rooms[i]
			break
		}
	}

	if matched == nil {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadInviteCode, "invalid invite code hash")
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	role := services.RoleListener
	if req.User.TelegramID == matched.HostID {
		role = services.RoleHost
	}

	token, err := h.authService.GenerateToken(matched.ID, req.User.TelegramID, req.User.Name, req.User.AvatarURL, role)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}

	writeJSON(w, http.StatusOK, models.JoinRoomResponse{
		RoomID:      matched.ID,
		DisplayName: matched.DisplayName,
		ControlMode: matched.ControlMode,
		HostID:      matched.HostID,
		Token:       token,
	})
}

// Get returns the room details plus the live listener count.
// The host additionally sees the invite code.
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	if claims.RoomID != roomID {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventRoomMismatch, "token bound to a different room")
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	rec, err := h.queries.GetRoomByID(r.Context(), roomID)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusNotFound, "room not found", err)
		return
	}

	isHost := claims.Role == services.RoleHost

	resp := models.RoomResponse{
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		ControlMode: rec.ControlMode,
		HostID:      rec.HostID,
		HostName:    rec.HostName,
		OnlineCount: h.hub.OnlineCount(rec.ID),
		CreatedAt:   rec.CreatedAt,
		IsHost:      isHost,
	}
	if isHost {
		resp.InviteCode = rec.InviteCode
	}

	writeJSON(w, http.StatusOK, resp)
}

// UpdateSettings switches the room's control mode and pushes the change to
// every attached channel.
func (h *RoomHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	if claims.RoomID != roomID {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	if claims.Role != services.RoleHost {
		writeError(w, http.StatusForbidden, "host access required")
		return
	}

	var req models.UpdateControlModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !room.ValidControlMode(req.ControlMode) {
		writeError(w, http.StatusBadRequest, "controlMode must be 'everyone' or 'host-only'")
		return
	}

	if err := h.queries.UpdateRoomControlMode(r.Context(), db.UpdateRoomControlModeParams{
		ID:          roomID,
		ControlMode: req.ControlMode,
	}); err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to update control mode", err)
		return
	}

	h.hub.UpdateSettings(roomID, room.ControlMode(req.ControlMode))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Delete closes the room for every participant and removes the registry row.
func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	claims := middleware.GetClaims(r.Context())

	if claims.RoomID != roomID {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	if claims.Role != services.RoleHost {
		writeError(w, http.StatusForbidden, "host access required")
		return
	}

	h.hub.CloseRoom(roomID, "room closed by host")

	result, err := h.queries.DeleteRoom(r.Context(), roomID)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to delete room", err)
		return
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to check deletion result", err)
		return
	}
	if rowsAffected == 0 {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
