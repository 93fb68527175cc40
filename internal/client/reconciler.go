// Package client implements the participant side of the room sync channel:
// a reconciler that mirrors the server's playback state, and a connection
// manager that keeps the mirror alive across reconnects.
package client

import (
	"sync"
	"time"

	"github.com/waveroom/backend/internal/room"
)

// Reconciler mirrors one room's authoritative playback state on the client.
// Every server event folds into the mirror; events the client itself caused
// are recognized by their origin tag and only advance the sequence counter,
// so optimistic local playback is never disturbed by its own echo.
type Reconciler struct {
	mu sync.Mutex

	selfID int64

	state      room.PlaybackState
	canControl bool
	mode       room.ControlMode
	hostID     int64

	roster map[int64]room.Profile
	closed bool
}

// NewReconciler creates a reconciler for the participant with the given
// identity. The mirror is empty until the first connected event arrives.
func NewReconciler(selfID int64) *Reconciler {
	return &Reconciler{
		selfID: selfID,
		roster: make(map[int64]room.Profile),
	}
}

// Apply folds one server event into the mirror. It returns true when the
// event changed the visible playback state, which callers use to decide
// whether the local player needs adjusting.
func (r *Reconciler) Apply(msg room.ServerMessage, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch msg.Event {
	case room.EventConnected:
		if msg.State != nil {
			r.state = *msg.State
			r.state.UpdatedAt = now
		}
		if msg.CanControl != nil {
			r.canControl = *msg.CanControl
		}
		r.closed = false
		return true

	case room.EventPlay, room.EventPause, room.EventSeek, room.EventTrackChange:
		if msg.TriggeredBy == r.selfID {
			// Own command coming back: the local player already reflects
			// it. Adopt the server's sequence number and nothing else.
			r.state.Seq = msg.Seq
			return false
		}
		return r.applyRemoteLocked(msg, now)

	case room.EventSettingsChanged:
		if msg.Settings != nil {
			r.mode = msg.Settings.ControlMode
			r.hostID = msg.Settings.HostID
		}
		if msg.CanControl != nil {
			r.canControl = *msg.CanControl
		} else if msg.Settings != nil {
			r.canControl = room.CanControl(r.mode, r.hostID, r.selfID)
		}
		return false

	case room.EventUserJoined:
		if msg.User != nil {
			r.roster[msg.User.TelegramID] = *msg.User
		}
		return false

	case room.EventUserLeft:
		delete(r.roster, msg.TelegramID)
		return false

	case room.EventRoomClosed:
		r.closed = true
		return true
	}

	return false
}

// applyRemoteLocked overwrites the mirror with another participant's command.
func (r *Reconciler) applyRemoteLocked(msg room.ServerMessage, now time.Time) bool {
	if msg.Track != nil {
		r.state.Track = msg.Track
	}
	if msg.Position != nil {
		r.state.Position = *msg.Position
	}
	switch msg.Event {
	case room.EventPlay:
		r.state.IsPlaying = true
	case room.EventPause:
		r.state.IsPlaying = false
	case room.EventTrackChange:
		if msg.IsPlaying != nil {
			r.state.IsPlaying = *msg.IsPlaying
		} else {
			r.state.IsPlaying = true
		}
		if msg.Position == nil {
			r.state.Position = 0
		}
	}
	r.state.Seq = msg.Seq
	r.state.UpdatedAt = now
	r.state.Origin = msg.TriggeredBy
	return true
}

// LocalCommand applies a command the participant issued optimistically,
// before the server confirms it. The sequence number stays untouched; the
// echo carries the server-assigned one.
func (r *Reconciler) LocalCommand(event string, track *room.Track, position float64, isPlaying *bool, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if track != nil {
		r.state.Track = track
	}
	r.state.Position = position
	switch event {
	case room.EventPlay:
		r.state.IsPlaying = true
	case room.EventPause:
		r.state.IsPlaying = false
	case room.EventTrackChange:
		if isPlaying != nil {
			r.state.IsPlaying = *isPlaying
		} else {
			r.state.IsPlaying = true
		}
	}
	r.state.UpdatedAt = now
	r.state.Origin = r.selfID
}

// State returns the mirrored playback state with the position extrapolated
// to now.
func (r *Reconciler) State(now time.Time) room.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.Position = s.EffectivePosition(now)
	return s
}

// Position returns the extrapolated playback position.
func (r *Reconciler) Position(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.EffectivePosition(now)
}

// Seq returns the sequence number of the last state the mirror reflects.
// Outgoing commands carry it as their basis.
func (r *Reconciler) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Seq
}

// CanControl reports whether the participant may issue playback commands
// under the room's current control mode.
func (r *Reconciler) CanControl() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canControl
}

// Online returns the number of other participants the mirror knows about.
func (r *Reconciler) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.roster)
}

// Closed reports whether the server announced the room's closure.
func (r *Reconciler) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
