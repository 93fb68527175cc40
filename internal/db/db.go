// Package db contains the data access layer for the room registry.
package db

import (
	"context"
	"database/sql"
	"time"
)

// Room is a registry row: identity, invite code, display name, control
// policy, and the creating host.
type Room struct {
	ID          string
	DisplayName string
	InviteCode  string
	ControlMode string
	HostID      int64
	HostName    string
	CreatedAt   time.Time
}

// Queries wraps a *sql.DB with the registry's query set.
type Queries struct {
	db *sql.DB
}

// New creates a Queries instance backed by the given database handle.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// CreateRoomParams holds the fields required to insert a room.
type CreateRoomParams struct {
	ID          string
	DisplayName string
	InviteCode  string
	ControlMode string
	HostID      int64
	HostName    string
}

const createRoom = `
INSERT INTO rooms (id, display_name, invite_code, control_mode, host_id, host_name)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id, display_name, invite_code, control_mode, host_id, host_name, created_at
`

// CreateRoom inserts a room and returns the stored row.
func (q *Queries) CreateRoom(ctx context.Context, arg CreateRoomParams) (Room, error) {
	row := q.db.QueryRowContext(ctx, createRoom,
		arg.ID, arg.DisplayName, arg.InviteCode, arg.ControlMode, arg.HostID, arg.HostName)
	var r Room
	err := row.Scan(&r.ID, &r.DisplayName, &r.InviteCode, &r.ControlMode, &r.HostID, &r.HostName, &r.CreatedAt)
	return r, err
}

const getRoomByID = `
SELECT id, display_name, invite_code, control_mode, host_id, host_name, created_at
FROM rooms WHERE id = ?
`

// GetRoomByID fetches one room; returns sql.ErrNoRows when absent.
func (q *Queries) GetRoomByID(ctx context.Context, id string) (Room, error) {
	row := q.db.QueryRowContext(ctx, getRoomByID, id)
	var r Room
	err := row.Scan(&r.ID, &r.DisplayName, &r.InviteCode, &r.ControlMode, &r.HostID, &r.HostName, &r.CreatedAt)
	return r, err
}

const listAllRooms = `
SELECT id, display_name, invite_code, control_mode, host_id, host_name, created_at
FROM rooms ORDER BY created_at DESC
`

// ListAllRooms returns every registered room. Used by join, which matches
// invite codes by comparing day-salted hashes.
func (q *Queries) ListAllRooms(ctx context.Context) ([]Room, error) {
	rows, err := q.db.QueryContext(ctx, listAllRooms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.DisplayName, &r.InviteCode, &r.ControlMode, &r.HostID, &r.HostName, &r.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// UpdateRoomControlModeParams identifies the room and the new policy.
type UpdateRoomControlModeParams struct {
	ID          string
	ControlMode string
}

const updateRoomControlMode = `
UPDATE rooms SET control_mode = ? WHERE id = ?
`

// UpdateRoomControlMode persists a control-mode change.
func (q *Queries) UpdateRoomControlMode(ctx context.Context, arg UpdateRoomControlModeParams) error {
	_, err := q.db.ExecContext(ctx, updateRoomControlMode, arg.ControlMode, arg.ID)
	return err
}

const deleteRoom = `
DELETE FROM rooms WHERE id = ?
`

// DeleteRoom removes a room row.
func (q *Queries) DeleteRoom(ctx context.Context, id string) (sql.Result, error) {
	return q.db.ExecContext(ctx, deleteRoom, id)
}

const inviteCodeExists = `
SELECT COUNT(1) FROM rooms WHERE invite_code = ?
`

// InviteCodeExists returns a non-zero count when the code is already taken.
func (q *Queries) InviteCodeExists(ctx context.Context, code string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, inviteCodeExists, code).Scan(&n)
	return n, err
}
