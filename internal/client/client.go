package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waveroom/backend/internal/room"
)

const (
	defaultMaxAttempts    = 5
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 30 * time.Second
	defaultResyncInterval = 15 * time.Second
)

// ErrNotAllowed is returned when a playback command is issued while the
// room's control mode denies this participant.
var ErrNotAllowed = errors.New("client: playback control not allowed")

// ErrClosed is returned when the connection has been shut down, either by
// Close or because the room no longer exists.
var ErrClosed = errors.New("client: connection closed")

// Options configures a room sync connection.
type Options struct {
	// URL is the websocket endpoint, e.g. wss://host/api/rooms/{id}/ws.
	URL string
	// Token is the JWT obtained from room creation or join.
	Token string
	// SelfID is the participant's Telegram id, used for echo suppression.
	SelfID int64

	// MaxAttempts bounds consecutive failed reconnects before giving up.
	MaxAttempts int
	// BaseDelay and MaxDelay shape the reconnect backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// ResyncInterval is how often a controlling participant re-broadcasts
	// its position while playing. Zero uses the default.
	ResyncInterval time.Duration

	// OnEvent, when set, observes every server event after the reconciler
	// has folded it in.
	OnEvent func(room.ServerMessage)
	// OnDisconnect, when set, is called when the connection is lost for
	// good: reconnects exhausted, room closed, or Close called.
	OnDisconnect func(err error)
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultMaxDelay
	}
	if o.ResyncInterval <= 0 {
		o.ResyncInterval = defaultResyncInterval
	}
	return o
}

// Client maintains a participant's live connection to a room: it dials,
// authenticates, keeps the reconciler in sync, and transparently reconnects
// with capped exponential backoff. Every reconnect performs a fresh
// handshake, so the mirror always restarts from the server's snapshot.
type Client struct {
	opts Options
	rec  *Reconciler

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to a room's sync channel. The returned client is live: the
// initial handshake has completed and the reconciler holds the server's
// snapshot.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	c := &Client{
		opts: opts,
		rec:  NewReconciler(opts.SelfID),
		done: make(chan struct{}),
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(runCtx)

	return c, nil
}

// Reconciler exposes the mirrored room state.
func (c *Client) Reconciler() *Reconciler { return c.rec }

// connect dials the endpoint and waits for the connected handshake. The
// token travels as a query parameter because browsers cannot set headers on
// websocket handshakes; this client does the same for parity.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL+"?token="+c.opts.Token, nil)
	if err != nil {
		return nil, err
	}

	var msg room.ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return nil, err
	}
	if msg.Event == room.EventError {
		conn.Close()
		return nil, errors.New("client: handshake rejected: " + msg.Message)
	}
	if msg.Event != room.EventConnected {
		conn.Close()
		return nil, errors.New("client: unexpected handshake event " + msg.Event)
	}

	c.rec.Apply(msg, time.Now())
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(msg)
	}
	return conn, nil
}

// run reads events until the connection drops, then reconnects with capped
// exponential backoff. Exits when reconnects are exhausted, the room closes,
// or the context is cancelled.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	resync := time.NewTicker(c.opts.ResyncInterval)
	defer resync.Stop()
	go c.resyncLoop(ctx, resync.C)

	consecutiveFailures := 0
	for {
		err := c.readLoop(ctx)
		if ctx.Err() != nil || c.isClosed() {
			c.finish(ErrClosed)
			return
		}
		if c.rec.Closed() {
			c.finish(errors.New("client: room closed"))
			return
		}

		for {
			consecutiveFailures++
			if consecutiveFailures > c.opts.MaxAttempts {
				slog.Error("client: reconnect attempts exhausted", slog.String("error", err.Error()))
				c.finish(err)
				return
			}

			delay := c.opts.BaseDelay * time.Duration(1<<(consecutiveFailures-1))
			if delay > c.opts.MaxDelay {
				delay = c.opts.MaxDelay
			}
			slog.Info("client: reconnecting after backoff",
				slog.Duration("delay", delay),
				slog.Int("attempt", consecutiveFailures))

			select {
			case <-ctx.Done():
				c.finish(ErrClosed)
				return
			case <-time.After(delay):
			}

			conn, dialErr := c.connect(ctx)
			if dialErr != nil {
				err = dialErr
				continue
			}

			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			consecutiveFailures = 0
			break
		}
	}
}

// readLoop pumps server events into the reconciler until a read fails.
func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		var msg room.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		c.rec.Apply(msg, time.Now())
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(msg)
		}

		if msg.Event == room.EventRoomClosed {
			return errors.New("client: room closed by server")
		}
	}
}

// resyncLoop periodically re-broadcasts the playing position so drifted
// listeners converge. Only a controlling participant does this; the message
// carries the current sequence as its basis so it loses to any newer state.
func (c *Client) resyncLoop(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		}

		st := c.rec.State(time.Now())
		if !st.IsPlaying || st.Track == nil || !c.rec.CanControl() {
			continue
		}

		c.send(room.ClientMessage{
			Event:    room.EventPlay,
			Position: st.Position,
			Seq:      st.Seq,
		})
	}
}

// Play starts or resumes playback of the given track at the given position.
func (c *Client) Play(track *room.Track, position float64) error {
	return c.command(room.EventPlay, track, position, nil)
}

// Pause freezes playback at the given position.
func (c *Client) Pause(position float64) error {
	return c.command(room.EventPause, nil, position, nil)
}

// Seek jumps to the given position without changing the play/pause state.
func (c *Client) Seek(position float64) error {
	return c.command(room.EventSeek, nil, position, nil)
}

// ChangeTrack switches the room to a new track from position zero. A nil
// isPlaying means autoplay.
func (c *Client) ChangeTrack(track *room.Track, isPlaying *bool) error {
	return c.command(room.EventTrackChange, track, 0, isPlaying)
}

// command applies the action locally first, then ships it. The echo that
// comes back is suppressed by origin tag.
func (c *Client) command(event string, track *room.Track, position float64, isPlaying *bool) error {
	if c.isClosed() {
		return ErrClosed
	}
	if !c.rec.CanControl() {
		return ErrNotAllowed
	}

	c.rec.LocalCommand(event, track, position, isPlaying, time.Now())

	return c.send(freshCommand(event, track, position, isPlaying))
}

// freshCommand builds the envelope for a deliberate user action. It carries
// no basis sequence: a fresh action always wins, even when the local mirror
// has not yet observed the room's latest state. Only the resync heartbeat
// carries a basis seq, so a delayed heartbeat can lose to newer state.
func freshCommand(event string, track *room.Track, position float64, isPlaying *bool) room.ClientMessage {
	return room.ClientMessage{
		Event:     event,
		Track:     track,
		Position:  position,
		IsPlaying: isPlaying,
	}
}

func (c *Client) send(msg room.ClientMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return ErrClosed
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	c.cancel()
	if !alreadyClosed && c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(err)
	}
}

// Close tears the connection down and stops all reconnect attempts.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	c.cancel()
	<-c.done
	return nil
}
