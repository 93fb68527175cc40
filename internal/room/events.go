// Package room implements the live playback synchronization core: per-room
// playback state, membership tracking, and event fan-out over websocket
// channels. The room registry (persistence, invite codes) lives elsewhere;
// this package only consumes its id/host/control-mode facts.
package room

// Wire event names. Inbound and outbound messages share the same envelope
// keyed by "event".
const (
	EventConnected       = "connected"
	EventPlay            = "play"
	EventPause           = "pause"
	EventSeek            = "seek"
	EventTrackChange     = "track_change"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventSettingsChanged = "settings_changed"
	EventRoomClosed      = "room_closed"
	EventError           = "error"
	EventPing            = "ping"
	EventPong            = "pong"
)

// Track is the minimal metadata the sync core carries for the current item.
// Clients resolve the URL against their own player; the server never touches
// the media itself.
type Track struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Profile is the public identity broadcast in user_joined events.
type Profile struct {
	TelegramID int64  `json:"telegram_id"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// Settings is the payload of settings_changed events.
type Settings struct {
	ControlMode ControlMode `json:"control_mode"`
	HostID      int64       `json:"host_id"`
}

// ClientMessage is the inbound (client -> server) envelope.
//
// Seq, when non-zero, is the sequence number of the state the command
// extends; the state machine drops commands whose basis is older than the
// room's current state. The resync heartbeat sets it, fresh user actions
// leave it zero.
type ClientMessage struct {
	Event     string  `json:"event"`
	Track     *Track  `json:"track,omitempty"`
	Position  float64 `json:"position,omitempty"`
	IsPlaying *bool   `json:"is_playing,omitempty"`
	Seq       uint64  `json:"seq,omitempty"`
}

// ServerMessage is the outbound (server -> client) envelope. Fields are
// populated per event type; TriggeredBy is the origin tag clients use for
// self-echo suppression.
type ServerMessage struct {
	Event       string         `json:"event"`
	State       *PlaybackState `json:"state,omitempty"`
	CanControl  *bool          `json:"can_control,omitempty"`
	Track       *Track         `json:"track,omitempty"`
	Position    *float64       `json:"position,omitempty"`
	IsPlaying   *bool          `json:"is_playing,omitempty"`
	Seq         uint64         `json:"seq,omitempty"`
	TriggeredBy int64          `json:"triggered_by,omitempty"`
	User        *Profile       `json:"user,omitempty"`
	TelegramID  int64          `json:"telegram_id,omitempty"`
	Settings    *Settings      `json:"settings,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// droppable reports whether the message may be discarded when a session's
// outbound queue is full. Only the high-frequency play position heartbeat
// and pong replies are safe to lose: a missed play is corrected by the next
// heartbeat, but a missed pause or seek may never be, since a paused room
// emits no further heartbeats to converge on.
func (m ServerMessage) droppable() bool {
	switch m.Event {
	case EventPlay, EventPong:
		return true
	default:
		return false
	}
}

func boolPtr(v bool) *bool       { return &v }
func floatPtr(v float64) *float64 { return &v }
