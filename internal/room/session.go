package room

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 4096

// Session is one participant's attachment to a room: a bounded outbound
// queue plus the websocket pumps that drain it. A session is created by
// Hub.Attach and lives until its channel closes, times out, or the room
// is torn down.
type Session struct {
	user Profile
	room *liveRoom
	hub  *Hub
	send chan ServerMessage
	done chan struct{}
	once sync.Once

	// critical counts queued non-droppable messages. The overflow policy
	// may displace the oldest queued heartbeat only while this is zero, so
	// critical delivery order is never disturbed.
	critical atomic.Int32
}

// tryQueue offers msg to the outbound queue without blocking.
func (s *Session) tryQueue(msg ServerMessage) bool {
	select {
	case s.send <- msg:
		if !msg.droppable() {
			s.critical.Add(1)
		}
		return true
	default:
		return false
	}
}

// User returns the participant's public profile.
func (s *Session) User() Profile { return s.user }

// Enqueue offers a message to the session outside the hub's fan-out path
// (the pong reply). Returns false when the queue is full or the session has
// been terminated; the send queue is never closed, so a reply racing a
// teardown or a reconnect replacement is a clean no-op.
func (s *Session) Enqueue(msg ServerMessage) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// terminate marks the session dead. The write pump drains what is already
// queued, sends a close frame, and closes the connection, which in turn
// unblocks the read pump. Safe to call more than once and from any producer.
func (s *Session) terminate() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Run drives the websocket pumps until the connection drops. It blocks in
// the read loop (callers run it on the handler goroutine) and detaches the
// session from its room on exit.
func (s *Session) Run(conn *websocket.Conn) {
	go s.writePump(conn)
	s.readPump(conn)
}

// readPump reads inbound envelopes. Liveness: the read deadline is pushed
// forward by websocket pongs and by any successful read, so a participant
// that goes silent past PongTimeout is marked disconnected and detached.
func (s *Session) readPump(conn *websocket.Conn) {
	defer s.hub.Detach(s)

	timeout := s.hub.opts.PongTimeout
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("room: websocket read failed",
					slog.String("room_id", s.room.id),
					slog.Int64("telegram_id", s.user.TelegramID),
					slog.String("error", err.Error()))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(timeout))

		if msg.Event == EventPing {
			s.Enqueue(ServerMessage{Event: EventPong})
			continue
		}
		s.hub.HandleCommand(s, msg)
	}
}

// writePump drains the outbound queue into the connection and keeps the
// channel alive with periodic pings. On termination it flushes the queued
// backlog (room_closed, final membership events) before the close frame.
func (s *Session) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(s.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			if !msg.droppable() {
				s.critical.Add(-1)
			}
			conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case msg := <-s.send:
					if !msg.droppable() {
						s.critical.Add(-1)
					}
					conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteTimeout))
					if err := conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteTimeout))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
