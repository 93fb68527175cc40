// Package services contains the room registry's business logic: token
// minting and invite-code generation.
package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role represents a participant's permission level within a room.
type Role string

const (
	RoleHost     Role = "host"     // Created the room; controls settings and (in host-only mode) playback
	RoleListener Role = "listener" // Joined by invite code
)

// Claims represents the JWT payload for authenticated requests. It binds
// the participant's identity and display profile to one room.
type Claims struct {
	RoomID     string `json:"rid"`
	TelegramID int64  `json:"uid"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar,omitempty"`
	Role       Role   `json:"role"`
	jwt.RegisteredClaims
}

// AuthService handles JWT token generation and validation for room access.
type AuthService struct {
	secret                []byte
	hostTokenDuration     time.Duration
	listenerTokenDuration time.Duration
}

// NewAuthService creates an AuthService with the given signing secret and token durations.
func NewAuthService(secret string, hostDuration, listenerDuration time.Duration) *AuthService {
	return &AuthService{
		secret:                []byte(secret),
		hostTokenDuration:     hostDuration,
		listenerTokenDuration: listenerDuration,
	}
}

// GenerateToken creates a signed JWT binding the participant to the room.
// Host tokens have a longer expiry than listener tokens.
func (s *AuthService) GenerateToken(roomID string, telegramID int64, name, avatarURL string, role Role) (string, error) {
	var duration time.Duration
	if role == RoleHost {
		duration = s.hostTokenDuration
	} else {
		duration = s.listenerTokenDuration
	}

	claims := Claims{
		RoomID:     roomID,
		TelegramID: telegramID,
		Name:       name,
		AvatarURL:  avatarURL,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "waveroom",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken verifies the JWT signature and expiry, returning the claims if valid.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
