package room

import (
	"sync"
	"testing"
	"time"
)

func testHub(opts Options) *Hub {
	if opts.SendQueueSize == 0 {
		opts.SendQueueSize = 8
	}
	if opts.HostGracePeriod == 0 {
		opts.HostGracePeriod = time.Hour // never fires unless a test wants it
	}
	return NewHub(opts)
}

// recv pulls the next queued message, mirroring the write pump's critical
// accounting so overflow behavior stays faithful under test.
func recv(s *Session, wait time.Duration) (ServerMessage, bool) {
	select {
	case msg := <-s.send:
		if !msg.droppable() {
			s.critical.Add(-1)
		}
		return msg, true
	case <-time.After(wait):
		return ServerMessage{}, false
	}
}

// mustAttach attaches and consumes the connected handshake, which is always
// the session's first queued message.
func mustAttach(t *testing.T, h *Hub, info Info, p Profile) (*Session, PlaybackState, bool) {
	t.Helper()
	sess, snap, canControl, err := h.Attach(info, p)
	if err != nil {
		t.Fatalf("Attach(%d) error = %v", p.TelegramID, err)
	}
	msg, ok := recv(sess, time.Second)
	if !ok {
		t.Fatalf("Attach(%d): no handshake message queued", p.TelegramID)
	}
	if msg.Event != EventConnected {
		t.Fatalf("Attach(%d): first message = %q, want connected", p.TelegramID, msg.Event)
	}
	return sess, snap, canControl
}

// nextMessage returns the next queued message or fails.
func nextMessage(t *testing.T, s *Session) ServerMessage {
	t.Helper()
	msg, ok := recv(s, time.Second)
	if !ok {
		t.Fatal("timed out waiting for message")
	}
	return msg
}

// waitFor skips messages until one with the given event arrives.
func waitFor(t *testing.T, s *Session, event string) ServerMessage {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := recv(s, 50*time.Millisecond); ok && msg.Event == event {
			return msg
		}
	}
	t.Fatalf("timed out waiting for %q", event)
	return ServerMessage{}
}

func assertNoMessage(t *testing.T, s *Session) {
	t.Helper()
	if msg, ok := recv(s, 50*time.Millisecond); ok {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

var (
	hostProfile     = Profile{TelegramID: 42, Name: "Ada"}
	listenerProfile = Profile{TelegramID: 99, Name: "Lin"}
)

func everyoneRoom() Info {
	return Info{ID: "room-1", HostID: 42, ControlMode: ControlModeEveryone}
}

func hostOnlyRoom() Info {
	return Info{ID: "room-1", HostID: 42, ControlMode: ControlModeHostOnly}
}

func TestAttachResolvesAuthority(t *testing.T) {
	h := testHub(Options{})
	info := hostOnlyRoom()

	_, _, hostControl := mustAttach(t, h, info, hostProfile)
	if !hostControl {
		t.Error("host should control a host-only room")
	}

	_, _, listenerControl := mustAttach(t, h, info, listenerProfile)
	if listenerControl {
		t.Error("listener should not control a host-only room")
	}
}

func TestUserJoinedGoesToOthersOnly(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	joiner, _, _ := mustAttach(t, h, info, listenerProfile)

	msg := nextMessage(t, host)
	if msg.Event != EventUserJoined {
		t.Fatalf("Event = %q, want user_joined", msg.Event)
	}
	if msg.User == nil || msg.User.TelegramID != listenerProfile.TelegramID {
		t.Errorf("User = %+v, want the joiner's profile", msg.User)
	}

	assertNoMessage(t, joiner)
}

func TestConnectedHandshakeIsFirstMessage(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	h.HandleCommand(host, ClientMessage{Event: EventPlay, Track: testTrack, Position: 5})
	waitFor(t, host, EventPlay)

	joiner, snap, _, err := h.Attach(info, listenerProfile)
	if err != nil {
		t.Fatalf("Attach error = %v", err)
	}

	// A transition accepted right after attachment must land behind the
	// handshake, never ahead of it.
	h.HandleCommand(host, ClientMessage{Event: EventSeek, Position: 50})

	first, ok := recv(joiner, time.Second)
	if !ok {
		t.Fatal("no handshake queued")
	}
	if first.Event != EventConnected {
		t.Fatalf("first message = %q, want connected", first.Event)
	}
	if first.State == nil || first.State.Seq != snap.Seq {
		t.Fatalf("handshake state = %+v, want the snapshot at seq %d", first.State, snap.Seq)
	}
	if first.State.Idle() {
		t.Error("handshake snapshot should carry the playing track")
	}

	seek := waitFor(t, joiner, EventSeek)
	if seek.Seq <= first.State.Seq {
		t.Errorf("seek seq = %d, want newer than the handshake's %d", seek.Seq, first.State.Seq)
	}
}

func TestCommandFansOutToEveryoneIncludingIssuer(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	listener, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	h.HandleCommand(listener, ClientMessage{Event: EventPlay, Track: testTrack, Position: 12})

	for _, s := range []*Session{host, listener} {
		msg := nextMessage(t, s)
		if msg.Event != EventPlay {
			t.Fatalf("Event = %q, want play", msg.Event)
		}
		if msg.TriggeredBy != listenerProfile.TelegramID {
			t.Errorf("TriggeredBy = %d, want %d", msg.TriggeredBy, listenerProfile.TelegramID)
		}
		if msg.Position == nil || *msg.Position != 12 {
			t.Errorf("Position = %v, want 12", msg.Position)
		}
		if msg.Track == nil || msg.Track.ID != testTrack.ID {
			t.Errorf("Track = %+v, want %s", msg.Track, testTrack.ID)
		}
	}
}

func TestUnauthorizedCommandRejectedToSenderOnly(t *testing.T) {
	h := testHub(Options{})
	info := hostOnlyRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	listener, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	h.HandleCommand(listener, ClientMessage{Event: EventPlay, Track: testTrack})

	msg := nextMessage(t, listener)
	if msg.Event != EventError {
		t.Fatalf("sender got %q, want error", msg.Event)
	}

	assertNoMessage(t, host)

	if h.get(info.ID).machine.Seq() != 0 {
		t.Error("rejected command must not mutate state")
	}
}

func TestStaleCommandProducesNoBroadcast(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)

	h.HandleCommand(host, ClientMessage{Event: EventPlay, Track: testTrack, Position: 1})
	h.HandleCommand(host, ClientMessage{Event: EventSeek, Position: 30})
	waitFor(t, host, EventPlay)
	waitFor(t, host, EventSeek)

	// Delayed duplicate of the first command's basis.
	h.HandleCommand(host, ClientMessage{Event: EventSeek, Position: 1, Seq: 1})

	assertNoMessage(t, host)
}

func TestFreshCommandWinsOverNewerState(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	listener, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	h.HandleCommand(host, ClientMessage{Event: EventPlay, Track: testTrack, Position: 0})
	h.HandleCommand(host, ClientMessage{Event: EventSeek, Position: 30})
	waitFor(t, listener, EventSeek)

	// The listener's mirror has not caught up, but a deliberate user action
	// carries no basis seq and must overwrite the newer state regardless.
	h.HandleCommand(listener, ClientMessage{Event: EventPause, Position: 31})

	msg := waitFor(t, listener, EventPause)
	if msg.Seq != 3 {
		t.Errorf("pause seq = %d, want 3", msg.Seq)
	}
	if state := h.get(info.ID).machine.Snapshot(time.Now()); state.IsPlaying {
		t.Error("fresh pause must overwrite the room state")
	}
}

func TestMembershipAccounting(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	var sessions []*Session
	for i := 0; i < 5; i++ {
		s, _, _ := mustAttach(t, h, info, Profile{TelegramID: int64(100 + i), Name: "u"})
		sessions = append(sessions, s)
	}
	if got := h.OnlineCount(info.ID); got != 5 {
		t.Fatalf("OnlineCount = %d, want 5", got)
	}

	h.Detach(sessions[0])
	h.Detach(sessions[1])
	if got := h.OnlineCount(info.ID); got != 3 {
		t.Fatalf("OnlineCount after 2 leaves = %d, want 3", got)
	}

	// Each remaining participant saw exactly two user_left events.
	for _, s := range sessions[2:] {
		left := 0
		for {
			msg, ok := recv(s, 50*time.Millisecond)
			if !ok {
				break
			}
			if msg.Event == EventUserLeft {
				left++
			}
		}
		if left != 2 {
			t.Errorf("participant saw %d user_left events, want 2", left)
		}
	}
}

func TestReconnectReplacesSessionWithoutDuplicateJoin(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	first, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	// Same participant handshakes again before the old channel is reaped.
	second, _, _ := mustAttach(t, h, info, listenerProfile)

	if got := h.OnlineCount(info.ID); got != 2 {
		t.Fatalf("OnlineCount = %d, want 2 after replacement", got)
	}
	assertNoMessage(t, host)

	// Reaping the replaced session must not remove the live one.
	h.Detach(first)
	if got := h.OnlineCount(info.ID); got != 2 {
		t.Fatalf("OnlineCount = %d, want 2 after reaping the stale session", got)
	}
	_ = second
}

func TestEnqueueOnTerminatedSessionIsNoOp(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	sess, _, _ := mustAttach(t, h, info, hostProfile)
	h.CloseRoom(info.ID, "room closed by host")

	// A pong reply racing the teardown must fail cleanly, not panic.
	if sess.Enqueue(ServerMessage{Event: EventPong}) {
		t.Error("enqueue on a terminated session should report failure")
	}
}

func TestEnqueueOnReplacedSessionIsNoOp(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	first, _, _ := mustAttach(t, h, info, listenerProfile)
	mustAttach(t, h, info, listenerProfile)

	// The old channel's read pump may still try to answer a ping after the
	// reconnect handshake replaced it.
	if first.Enqueue(ServerMessage{Event: EventPong}) {
		t.Error("enqueue on a replaced session should report failure")
	}
}

func TestSettingsChangePushesPerParticipantAuthority(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	listener, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	h.UpdateSettings(info.ID, ControlModeHostOnly)

	hostMsg := waitFor(t, host, EventSettingsChanged)
	if hostMsg.CanControl == nil || !*hostMsg.CanControl {
		t.Error("host should keep control after switch to host-only")
	}
	listenerMsg := waitFor(t, listener, EventSettingsChanged)
	if listenerMsg.CanControl == nil || *listenerMsg.CanControl {
		t.Error("listener should lose control after switch to host-only")
	}
	if listenerMsg.Settings == nil || listenerMsg.Settings.ControlMode != ControlModeHostOnly {
		t.Errorf("Settings = %+v, want host-only", listenerMsg.Settings)
	}

	// The resolver is consulted per command, so the switch takes effect
	// without a reconnect.
	h.HandleCommand(listener, ClientMessage{Event: EventPlay, Track: testTrack})
	if msg := nextMessage(t, listener); msg.Event != EventError {
		t.Errorf("listener command after switch: got %q, want error", msg.Event)
	}
}

func TestHostDepartureClosesRoomAfterGrace(t *testing.T) {
	var mu sync.Mutex
	var closedRoom string
	h := testHub(Options{
		HostGracePeriod: 30 * time.Millisecond,
		OnRoomClosed: func(roomID, reason string) {
			mu.Lock()
			closedRoom = roomID
			mu.Unlock()
		},
	})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	listener, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	h.Detach(host)
	waitFor(t, listener, EventUserLeft)

	msg := waitFor(t, listener, EventRoomClosed)
	if msg.Message == "" {
		t.Error("room_closed should carry a message")
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		done := closedRoom == info.ID
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("OnRoomClosed callback not invoked")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := h.OnlineCount(info.ID); got != 0 {
		t.Errorf("OnlineCount = %d, want 0 after closure", got)
	}
}

func TestHostReturnWithinGraceKeepsRoomOpen(t *testing.T) {
	h := testHub(Options{HostGracePeriod: 60 * time.Millisecond})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	listener, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	h.Detach(host)
	waitFor(t, listener, EventUserLeft)

	mustAttach(t, h, info, hostProfile)
	time.Sleep(100 * time.Millisecond)

	if got := h.OnlineCount(info.ID); got != 2 {
		t.Errorf("OnlineCount = %d, want 2; the room must survive a host reconnect within grace", got)
	}
	if msg := waitFor(t, listener, EventUserJoined); msg.User.TelegramID != hostProfile.TelegramID {
		t.Errorf("rejoin event user = %+v, want host", msg.User)
	}
}

func TestLateJoinerReceivesExtrapolatedSnapshot(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	h.HandleCommand(host, ClientMessage{Event: EventPlay, Track: testTrack, Position: 10})
	waitFor(t, host, EventPlay)

	time.Sleep(120 * time.Millisecond)

	_, snap, _ := mustAttach(t, h, info, listenerProfile)
	if snap.Position < 10.1 || snap.Position > 11 {
		t.Errorf("late joiner snapshot position = %v, want roughly 10.12", snap.Position)
	}
	if !snap.IsPlaying {
		t.Error("late joiner snapshot should still be playing")
	}
}

func TestCloseRoomNotifiesAndDetachesEveryone(t *testing.T) {
	h := testHub(Options{})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	listener, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	h.CloseRoom(info.ID, "room closed by host")

	for _, s := range []*Session{host, listener} {
		msg := waitFor(t, s, EventRoomClosed)
		if msg.Message != "room closed by host" {
			t.Errorf("Message = %q", msg.Message)
		}
		assertNoMessage(t, s)
	}

	if _, _, _, err := h.Attach(info, hostProfile); err != nil {
		// A closed room is gone from the hub; a fresh attach recreates it.
		t.Errorf("Attach after close error = %v, want recreation", err)
	}
}

func TestSlowConsumerDropsHeartbeatsButNotMembership(t *testing.T) {
	h := testHub(Options{SendQueueSize: 4})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	listener, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	// Flood more heartbeats than the listener's queue can hold without
	// reading them: they are droppable, so the session must survive.
	for i := 0; i < 10; i++ {
		h.HandleCommand(host, ClientMessage{Event: EventPlay, Track: testTrack, Position: float64(i)})
	}
	if got := h.OnlineCount(info.ID); got != 2 {
		t.Fatalf("OnlineCount = %d, want 2; heartbeat overflow must not evict", got)
	}

	// Drain the host so only the listener is still stalled.
	for {
		if _, ok := recv(host, 10*time.Millisecond); !ok {
			break
		}
	}

	// A critical message against a still-full queue evicts the stalled session.
	h.UpdateSettings(info.ID, ControlModeHostOnly)
	if got := h.OnlineCount(info.ID); got != 1 {
		t.Fatalf("OnlineCount = %d, want 1 after evicting the stalled consumer", got)
	}
	if msg := waitFor(t, host, EventUserLeft); msg.TelegramID != listenerProfile.TelegramID {
		t.Errorf("user_left telegram_id = %d, want %d", msg.TelegramID, listenerProfile.TelegramID)
	}
	_ = listener
}

func TestHeartbeatOverflowKeepsFreshestPosition(t *testing.T) {
	h := testHub(Options{SendQueueSize: 4})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	listener, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	for i := 0; i < 10; i++ {
		h.HandleCommand(host, ClientMessage{Event: EventPlay, Track: testTrack, Position: float64(i)})
	}

	// Overflow displaces the oldest heartbeats; the queue holds the newest.
	var positions []float64
	for {
		msg, ok := recv(listener, 50*time.Millisecond)
		if !ok {
			break
		}
		if msg.Event == EventPlay && msg.Position != nil {
			positions = append(positions, *msg.Position)
		}
	}
	if len(positions) != 4 {
		t.Fatalf("queued heartbeats = %d, want 4", len(positions))
	}
	if positions[0] != 6 || positions[3] != 9 {
		t.Errorf("positions = %v, want [6 7 8 9]", positions)
	}
}

func TestPauseNeverDroppedForStalledConsumer(t *testing.T) {
	h := testHub(Options{SendQueueSize: 2})
	info := everyoneRoom()

	host, _, _ := mustAttach(t, h, info, hostProfile)
	listener, _, _ := mustAttach(t, h, info, listenerProfile)
	waitFor(t, host, EventUserJoined)

	// Stall the listener with a full queue of heartbeats.
	for i := 0; i < 4; i++ {
		h.HandleCommand(host, ClientMessage{Event: EventPlay, Track: testTrack, Position: float64(i)})
	}
	for {
		if _, ok := recv(host, 10*time.Millisecond); !ok {
			break
		}
	}

	// A pause must never be swallowed: a paused room emits no further
	// heartbeats, so a consumer that misses it can only recover by being
	// evicted and reconnecting.
	h.HandleCommand(host, ClientMessage{Event: EventPause, Position: 9})

	if got := h.OnlineCount(info.ID); got != 1 {
		t.Fatalf("OnlineCount = %d, want 1; stalled consumer must be evicted rather than miss a pause", got)
	}
	if msg := waitFor(t, host, EventUserLeft); msg.TelegramID != listenerProfile.TelegramID {
		t.Errorf("user_left telegram_id = %d, want %d", msg.TelegramID, listenerProfile.TelegramID)
	}
	_ = listener
}
