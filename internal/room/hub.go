package room

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRoomClosed is returned by Attach when the live room has already been
// torn down (host departure or explicit deletion).
var ErrRoomClosed = errors.New("room closed")

// Options tunes the hub's channel and liveness behavior. Zero values fall
// back to defaults suitable for production.
type Options struct {
	// SendQueueSize bounds each session's outbound queue.
	SendQueueSize int
	// HostGracePeriod is how long a room survives after its host's channel
	// drops. If the host does not complete a new handshake in time, the
	// room closes and every participant receives room_closed.
	HostGracePeriod time.Duration
	// PingInterval and PongTimeout drive websocket liveness. A participant
	// that misses pongs for PongTimeout is detached.
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	// OnRoomClosed is invoked (in its own goroutine) after a room is closed
	// because its host disconnected permanently, so the registry can drop
	// the room record.
	OnRoomClosed func(roomID, reason string)
}

func (o Options) withDefaults() Options {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 32
	}
	if o.HostGracePeriod <= 0 {
		o.HostGracePeriod = 60 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Info carries the registry facts the sync core needs about a room.
type Info struct {
	ID          string
	HostID      int64
	ControlMode ControlMode
}

// Hub tracks every live room and its attached sessions. It is safe for
// concurrent use; all per-room work is serialized under the room's lock so
// no two commands for the same room are ever applied concurrently.
type Hub struct {
	opts  Options
	mu    sync.Mutex
	rooms map[string]*liveRoom
}

// NewHub creates a Hub with the given options.
func NewHub(opts Options) *Hub {
	return &Hub{
		opts:  opts.withDefaults(),
		rooms: make(map[string]*liveRoom),
	}
}

// liveRoom is the in-memory state of one occupied room: the playback machine,
// the attached sessions keyed by participant id, and the host-grace timer.
type liveRoom struct {
	mu       sync.Mutex
	id       string
	hostID   int64
	mode     ControlMode
	machine  Machine
	sessions map[int64]*Session
	hostGone *time.Timer
	closed   bool
	hub      *Hub
}

func (h *Hub) getOrCreate(info Info) *liveRoom {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[info.ID]
	if !ok {
		rm = &liveRoom{
			id:       info.ID,
			hostID:   info.HostID,
			mode:     info.ControlMode,
			sessions: make(map[int64]*Session),
			hub:      h,
		}
		h.rooms[info.ID] = rm
	}
	return rm
}

func (h *Hub) get(roomID string) *liveRoom {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[roomID]
}

func (h *Hub) remove(rm *liveRoom) {
	h.mu.Lock()
	if h.rooms[rm.id] == rm {
		delete(h.rooms, rm.id)
	}
	h.mu.Unlock()
}

// Attach registers a participant on a room's channel set and returns the
// session together with the current playback snapshot and resolved authority.
// The connected handshake is queued under the room lock before the session
// becomes visible to broadcasts, so it is always the session's first message
// and no concurrent transition can precede the snapshot it extrapolates. A
// second handshake for the same participant replaces the previous session
// without membership events. Every other attached channel receives
// user_joined exactly once per handshake.
func (h *Hub) Attach(info Info, p Profile) (*Session, PlaybackState, bool, error) {
	rm := h.getOrCreate(info)

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return nil, PlaybackState{}, false, ErrRoomClosed
	}

	if p.TelegramID == rm.hostID && rm.hostGone != nil {
		rm.hostGone.Stop()
		rm.hostGone = nil
	}

	replaced := rm.sessions[p.TelegramID]
	sess := &Session{
		user: p,
		room: rm,
		hub:  h,
		send: make(chan ServerMessage, h.opts.SendQueueSize),
		done: make(chan struct{}),
	}

	now := time.Now()
	snap := rm.machine.Snapshot(now)
	canControl := CanControl(rm.mode, rm.hostID, p.TelegramID)
	sess.tryQueue(ServerMessage{
		Event:      EventConnected,
		State:      &snap,
		CanControl: boolPtr(canControl),
	})
	rm.sessions[p.TelegramID] = sess

	if replaced == nil {
		rm.broadcastLocked(ServerMessage{Event: EventUserJoined, User: &p}, sess)
	}
	online := len(rm.sessions)
	rm.mu.Unlock()

	if replaced != nil {
		replaced.terminate()
	}

	slog.Info("room: participant attached",
		slog.String("room_id", rm.id),
		slog.Int64("telegram_id", p.TelegramID),
		slog.Int("online", online))

	return sess, snap, canControl, nil
}

// Detach removes a session from its room, broadcasting user_left to the
// remaining participants. Called on explicit leave, read error, and liveness
// timeout; detaching an already-replaced session is a no-op beyond closing it.
func (h *Hub) Detach(s *Session) {
	rm := s.room

	rm.mu.Lock()
	if rm.sessions[s.user.TelegramID] != s {
		rm.mu.Unlock()
		s.terminate()
		return
	}
	rm.dropLocked(s)
	empty := len(rm.sessions) == 0 && rm.hostGone == nil && !rm.closed
	online := len(rm.sessions)
	rm.mu.Unlock()

	if empty {
		h.remove(rm)
	}

	slog.Info("room: participant detached",
		slog.String("room_id", rm.id),
		slog.Int64("telegram_id", s.user.TelegramID),
		slog.Int("online", online))
}

// HandleCommand runs one inbound playback command through the authority
// resolver and the state machine, then fans the accepted transition out to
// every attached channel including the issuer. Unauthorized commands produce
// an error message to the sender only; stale commands are dropped silently.
func (h *Hub) HandleCommand(s *Session, msg ClientMessage) {
	rm := s.room
	origin := s.user.TelegramID

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return
	}

	if !CanControl(rm.mode, rm.hostID, origin) {
		slog.Warn("room: unauthorized command rejected",
			slog.String("room_id", rm.id),
			slog.Int64("telegram_id", origin),
			slog.String("event", msg.Event))
		rm.trySendLocked(s, ServerMessage{Event: EventError, Message: "you are not allowed to control playback"})
		return
	}

	var cmd Command
	switch msg.Event {
	case EventPlay:
		cmd = Command{Type: CommandPlay, Track: msg.Track, Position: msg.Position, Seq: msg.Seq, Origin: origin}
	case EventPause:
		cmd = Command{Type: CommandPause, Position: msg.Position, Seq: msg.Seq, Origin: origin}
	case EventSeek:
		cmd = Command{Type: CommandSeek, Position: msg.Position, Seq: msg.Seq, Origin: origin}
	case EventTrackChange:
		cmd = Command{Type: CommandTrackChange, Track: msg.Track, IsPlaying: msg.IsPlaying, Seq: msg.Seq, Origin: origin}
	default:
		rm.trySendLocked(s, ServerMessage{Event: EventError, Message: "unknown event: " + msg.Event})
		return
	}

	st, err := rm.machine.Apply(cmd, time.Now())
	if errors.Is(err, ErrStale) {
		return
	}
	if err != nil {
		rm.trySendLocked(s, ServerMessage{Event: EventError, Message: err.Error()})
		return
	}

	out := ServerMessage{
		Event:       msg.Event,
		Position:    floatPtr(st.Position),
		Seq:         st.Seq,
		TriggeredBy: origin,
	}
	if msg.Event == EventPlay || msg.Event == EventTrackChange {
		out.Track = st.Track
	}
	if msg.Event == EventTrackChange {
		out.IsPlaying = boolPtr(st.IsPlaying)
	}
	rm.broadcastLocked(out, nil)
}

// UpdateSettings applies a control-mode change to the live room and pushes
// settings_changed with each participant's re-resolved authority, so clients
// update without reconnecting.
func (h *Hub) UpdateSettings(roomID string, mode ControlMode) {
	rm := h.get(roomID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return
	}
	rm.mode = mode

	settings := Settings{ControlMode: mode, HostID: rm.hostID}
	var evicted []*Session
	for _, s := range rm.sessions {
		msg := ServerMessage{
			Event:      EventSettingsChanged,
			Settings:   &settings,
			CanControl: boolPtr(CanControl(mode, rm.hostID, s.user.TelegramID)),
		}
		if !rm.trySendLocked(s, msg) {
			evicted = append(evicted, s)
		}
	}
	for _, s := range evicted {
		rm.dropLocked(s)
	}
}

// CloseRoom tears down a live room: every attached channel receives
// room_closed and is then closed. Safe to call for rooms with no live state.
func (h *Hub) CloseRoom(roomID, message string) {
	h.mu.Lock()
	rm := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	rm.closed = true
	if rm.hostGone != nil {
		rm.hostGone.Stop()
		rm.hostGone = nil
	}
	out := ServerMessage{Event: EventRoomClosed, Message: message}
	for _, s := range rm.sessions {
		s.tryQueue(out)
		s.terminate()
	}
	rm.sessions = make(map[int64]*Session)
	rm.mu.Unlock()

	slog.Info("room: closed", slog.String("room_id", roomID), slog.String("message", message))
}

// OnlineCount returns the room's live-set size; it equals the number of
// attached channels at all times.
func (h *Hub) OnlineCount(roomID string) int {
	rm := h.get(roomID)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.sessions)
}

// trySendLocked enqueues msg on the session's bounded outbound queue.
// On overflow a droppable heartbeat displaces the oldest queued one so the
// freshest position survives; when anything critical is queued the newcomer
// is discarded instead, preserving critical delivery order. For critical
// messages it returns false so the caller can evict the stalled session
// instead of blocking the room.
func (rm *liveRoom) trySendLocked(s *Session, msg ServerMessage) bool {
	if s.tryQueue(msg) {
		return true
	}
	if !msg.droppable() {
		return false
	}
	if s.critical.Load() == 0 {
		select {
		case <-s.send:
		default:
		}
		s.tryQueue(msg)
	}
	return true
}

// broadcastLocked fans msg out to every attached session except the given
// one. Sessions whose queue cannot accept a critical message are dropped.
func (rm *liveRoom) broadcastLocked(msg ServerMessage, except *Session) {
	var evicted []*Session
	for _, s := range rm.sessions {
		if s == except {
			continue
		}
		if !rm.trySendLocked(s, msg) {
			evicted = append(evicted, s)
		}
	}
	for _, s := range evicted {
		rm.dropLocked(s)
	}
}

// dropLocked removes a session, emits exactly one user_left, and arms the
// host-grace timer when the departing participant is the host.
func (rm *liveRoom) dropLocked(s *Session) {
	delete(rm.sessions, s.user.TelegramID)
	s.terminate()
	rm.broadcastLocked(ServerMessage{Event: EventUserLeft, TelegramID: s.user.TelegramID}, nil)

	if s.user.TelegramID == rm.hostID && !rm.closed && rm.hostGone == nil {
		grace := rm.hub.opts.HostGracePeriod
		roomID := rm.id
		rm.hostGone = time.AfterFunc(grace, func() {
			rm.hub.closeAfterHostLoss(roomID)
		})
	}
}

func (h *Hub) closeAfterHostLoss(roomID string) {
	slog.Info("room: host did not return within grace period", slog.String("room_id", roomID))
	h.CloseRoom(roomID, "the host has left the room")
	if h.opts.OnRoomClosed != nil {
		h.opts.OnRoomClosed(roomID, "host_disconnected")
	}
}
