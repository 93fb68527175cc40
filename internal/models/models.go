package models

import "time"

// UserPayload is the participant identity presented at room creation/join.
// Validation of the Telegram init data happens upstream of this service.
type UserPayload struct {
	TelegramID int64  `json:"telegramId"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
}

// Room management
type CreateRoomRequest struct {
	DisplayName string      `json:"displayName"`
	ControlMode string      `json:"controlMode,omitempty"`
	User        UserPayload `json:"user"`
}

type CreateRoomResponse struct {
	RoomID     string `json:"roomId"`
	InviteCode string `json:"inviteCode"`
	Token      string `json:"token"`
}

type JoinRoomRequest struct {
	InviteCodeHash string      `json:"inviteCodeHash"`
	User           UserPayload `json:"user"`
}

type JoinRoomResponse struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
	ControlMode string `json:"controlMode"`
	HostID      int64  `json:"hostId"`
	Token       string `json:"token"`
}

type RoomResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	ControlMode string    `json:"controlMode"`
	HostID      int64     `json:"hostId"`
	HostName    string    `json:"hostName"`
	OnlineCount int       `json:"onlineCount"`
	InviteCode  string    `json:"inviteCode,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	IsHost      bool      `json:"isHost"`
}

// Settings management
type UpdateControlModeRequest struct {
	ControlMode string `json:"controlMode"`
}

// Error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
