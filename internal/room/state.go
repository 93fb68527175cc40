package room

import (
	"errors"
	"time"
)

// PlaybackState is the authoritative playback snapshot for one room.
// Position is elapsed seconds into the track at UpdatedAt; while IsPlaying
// a consumer must extrapolate position by the elapsed wall time. Seq is a
// server-assigned monotonic counter so out-of-order delivery can never
// regress state.
type PlaybackState struct {
	Track     *Track    `json:"track,omitempty"`
	Position  float64   `json:"position"`
	IsPlaying bool      `json:"is_playing"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
	Origin    int64     `json:"origin,omitempty"`
}

// Idle reports whether no track has been selected yet.
func (s PlaybackState) Idle() bool { return s.Track == nil }

// EffectivePosition extrapolates the playback offset at the given instant.
// Paused state returns the stored position verbatim.
func (s PlaybackState) EffectivePosition(now time.Time) float64 {
	if !s.IsPlaying || s.Track == nil {
		return s.Position
	}
	pos := s.Position + now.Sub(s.UpdatedAt).Seconds()
	if s.Track.DurationMs > 0 {
		if max := float64(s.Track.DurationMs) / 1000; pos > max {
			return max
		}
	}
	return pos
}

// CommandType enumerates the state-changing commands.
type CommandType string

const (
	CommandPlay        CommandType = "play"
	CommandPause       CommandType = "pause"
	CommandSeek        CommandType = "seek"
	CommandTrackChange CommandType = "track_change"
)

// Command is an authorized participant's request to mutate playback state.
type Command struct {
	Type     CommandType
	Track    *Track
	Position float64
	// IsPlaying carries the change-track intent: nil means autoplay.
	IsPlaying *bool
	// Seq is the sequence the command extends; zero means a fresh command
	// that always wins.
	Seq    uint64
	Origin int64
}

var (
	// ErrStale marks a command whose basis sequence is older than the
	// room's current state. Stale commands are silent no-ops, never
	// surfaced to the sender as errors.
	ErrStale = errors.New("stale command sequence")

	// ErrNoTrack marks a command that requires a current track while the
	// room is idle.
	ErrNoTrack = errors.New("no track selected")
)

// Machine owns the playback state for one room. An applied command always
// overwrites the current state in full (last-write-wins); there is no merge
// of concurrent commands. Callers must serialize Apply for a given room —
// the hub does this under the room lock.
type Machine struct {
	state PlaybackState
	seq   uint64
}

// Apply validates and applies cmd, stamping the resulting state with the
// next sequence number and the origin tag. Returns ErrStale for outdated
// sequences and ErrNoTrack for play/pause/seek against an idle room.
func (m *Machine) Apply(cmd Command, now time.Time) (PlaybackState, error) {
	if cmd.Seq != 0 && cmd.Seq < m.state.Seq {
		return PlaybackState{}, ErrStale
	}

	var next PlaybackState
	switch cmd.Type {
	case CommandPlay:
		track := cmd.Track
		if track == nil {
			track = m.state.Track
		}
		if track == nil {
			return PlaybackState{}, ErrNoTrack
		}
		next = PlaybackState{Track: track, Position: cmd.Position, IsPlaying: true}

	case CommandPause:
		if m.state.Track == nil {
			return PlaybackState{}, ErrNoTrack
		}
		next = PlaybackState{Track: m.state.Track, Position: cmd.Position, IsPlaying: false}

	case CommandSeek:
		if m.state.Track == nil {
			return PlaybackState{}, ErrNoTrack
		}
		next = PlaybackState{Track: m.state.Track, Position: cmd.Position, IsPlaying: m.state.IsPlaying}

	case CommandTrackChange:
		if cmd.Track == nil {
			return PlaybackState{}, ErrNoTrack
		}
		playing := true
		if cmd.IsPlaying != nil {
			playing = *cmd.IsPlaying
		}
		next = PlaybackState{Track: cmd.Track, Position: 0, IsPlaying: playing}

	default:
		return PlaybackState{}, errors.New("unknown command type: " + string(cmd.Type))
	}

	m.seq++
	next.Seq = m.seq
	next.UpdatedAt = now
	next.Origin = cmd.Origin
	m.state = next
	return next, nil
}

// Snapshot returns the current state with the position extrapolated to now,
// suitable for pushing to a late joiner.
func (m *Machine) Snapshot(now time.Time) PlaybackState {
	s := m.state
	if s.IsPlaying && s.Track != nil {
		s.Position = s.EffectivePosition(now)
		s.UpdatedAt = now
	}
	return s
}

// Seq returns the sequence number of the current state.
func (m *Machine) Seq() uint64 { return m.seq }
