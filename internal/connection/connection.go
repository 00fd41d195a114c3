// Package connection owns the websocket of one session participant.
//
// A Conn is used exactly once: Connect opens it, Close (or cancelling the
// context given to Connect, or the server going away) ends it for good.
// Every observer callback runs on the connection's own event loop goroutine,
// one at a time and in the order frames arrived.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/auth"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/protocol"
	"github.com/victornm/livequiz/internal/telemetry"
)

const (
	defaultSendQueue        = 16
	defaultHandshakeTimeout = 10 * time.Second

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time to wait for the server to answer our close frame.
	closeWait = time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Observer receives the events of a connection.
type Observer interface {
	OnState(s domain.Snapshot)
	OnClose()
	OnError(err error)
}

// OpenObserver is optionally implemented by observers that want to know when
// the socket is established.
type OpenObserver interface {
	OnOpen()
}

// PlayerAnsweredObserver is optionally implemented by observers interested in
// the advisory playerAnswered notifications.
type PlayerAnsweredObserver interface {
	OnPlayerAnswered(playerID uuid.UUID)
}

// Options tune the transport. Zero values pick the defaults.
type Options struct {
	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration
	// PingInterval enables keep-alive pings, the server must answer within
	// two intervals. Zero disables pings.
	PingInterval time.Duration
	SendQueue    int

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

type Config struct {
	URL string

	// Credential is sent as the Bearer_{token} subprotocol when not empty.
	Credential        auth.Credential
	RequireCredential bool

	Observer Observer

	Options
}

type Conn struct {
	url          string
	cred         auth.Credential
	requireCred  bool
	observer     Observer
	dialer       websocket.Dialer
	pingInterval time.Duration
	logger       *slog.Logger
	metrics      *telemetry.Metrics

	mu      sync.Mutex
	state   State
	outbox  chan []byte
	closing chan struct{}
	done    chan struct{}
}

func New(c Config) *Conn {
	conn := &Conn{
		url:          c.URL,
		cred:         c.Credential,
		requireCred:  c.RequireCredential,
		observer:     c.Observer,
		pingInterval: c.PingInterval,
		logger:       c.Logger,
		metrics:      c.Metrics,
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}

	if conn.observer == nil {
		conn.observer = nopObserver{}
	}

	if conn.logger == nil {
		conn.logger = slog.Default()
	}

	if c.Dialer != nil {
		conn.dialer = *c.Dialer
	} else {
		conn.dialer = *websocket.DefaultDialer
	}

	conn.dialer.Subprotocols = nil
	if !conn.cred.Empty() {
		conn.dialer.Subprotocols = []string{conn.cred.Subprotocol()}
	}

	conn.dialer.HandshakeTimeout = defaultHandshakeTimeout
	if c.HandshakeTimeout > 0 {
		conn.dialer.HandshakeTimeout = c.HandshakeTimeout
	}

	size := c.SendQueue
	if size <= 0 {
		size = defaultSendQueue
	}
	conn.outbox = make(chan []byte, size)

	return conn
}

// Connect starts connecting in the background and returns immediately. The
// outcome is reported to the observer. ctx bounds the whole lifetime of the
// connection, cancelling it has the same effect as Close.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected {
		return errors.ErrAlreadyConnected
	}

	if c.requireCred && c.cred.Empty() {
		return errors.ErrMissingCredential
	}

	c.state = StateConnecting
	go c.run(ctx)

	return nil
}

// Send queues one command frame. It never waits for the network.
func (c *Conn) Send(cmd protocol.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting && c.state != StateConnected {
		return errors.ErrNotConnected
	}

	if !cmd.IsValid() {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid command: %+v", cmd))
	}

	data, err := protocol.Encode(cmd)
	if err != nil {
		return errors.Internal(err)
	}

	select {
	case c.outbox <- data:
		return nil
	default:
		return errors.ErrSendQueueFull
	}
}

// Close ends the connection. It is safe to call any number of times and on a
// connection that was never opened, in which case it does nothing.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting && c.state != StateConnected {
		return
	}

	c.state = StateClosed
	close(c.closing)
}

// Done is closed once the observer's OnClose has returned. It is never closed
// for a connection that was not connected.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Conn) URL() string {
	return c.url
}

func (c *Conn) closeRequested() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Conn) run(ctx context.Context) {
	defer c.finish(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A Close during the handshake aborts the dial.
	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	stopping := func() bool {
		return c.closeRequested() || ctx.Err() != nil
	}

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if !stopping() {
			c.observer.OnError(fmt.Errorf("connection: dial %s: %w", c.url, err))
		}
		return
	}
	defer ws.Close()

	if len(c.dialer.Subprotocols) > 0 && ws.Subprotocol() != c.dialer.Subprotocols[0] {
		c.logger.WarnContext(ctx, "connection: server did not accept the credential subprotocol", "url", c.url)
	}

	c.opened(ctx)

	var ping <-chan time.Time
	if c.pingInterval > 0 {
		t := time.NewTicker(c.pingInterval)
		defer t.Stop()
		ping = t.C

		pongWait := 2 * c.pingInterval
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	var (
		frames  = make(chan []byte)
		readErr = make(chan error, 1)
		stop    = make(chan struct{})
	)
	defer close(stop)

	go readPump(ws, frames, readErr, stop)

	for {
		select {
		case data, ok := <-frames:
			if !ok {
				if err := <-readErr; !stopping() && !isNormalClose(err) {
					c.observer.OnError(fmt.Errorf("connection: read: %w", err))
				}
				return
			}

			if c.closeRequested() {
				continue
			}
			c.dispatch(ctx, data)

		case data := <-c.outbox:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.observer.OnError(fmt.Errorf("connection: write: %w", err))
				continue
			}
			c.metrics.CommandSent()

		case <-ping:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.observer.OnError(fmt.Errorf("connection: ping: %w", err))
			}

		case <-ctx.Done():
			shutdown(ws, frames)
			return
		}
	}
}

func (c *Conn) opened(ctx context.Context) {
	c.mu.Lock()
	open := c.state == StateConnecting
	if open {
		c.state = StateConnected
	}
	c.mu.Unlock()

	c.metrics.ConnectionOpened()
	c.logger.InfoContext(ctx, "connection: opened", "url", c.url)

	if o, ok := c.observer.(OpenObserver); ok && open {
		o.OnOpen()
	}
}

func (c *Conn) finish(ctx context.Context) {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.metrics.ConnectionClosed()
	c.logger.InfoContext(ctx, "connection: closed", "url", c.url)

	c.observer.OnClose()
	close(c.done)
}

// dispatch routes one inbound frame. Frames that do not decode are dropped,
// a newer server may send kinds this client does not know yet.
func (c *Conn) dispatch(ctx context.Context, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.metrics.FrameDropped()
		c.logger.DebugContext(ctx, "connection: dropped frame", "error", err)
		return
	}

	c.metrics.FrameReceived(string(env.Kind))

	switch env.Kind {
	case protocol.KindState:
		c.observer.OnState(env.Snapshot)

	case protocol.KindPlayerAnswered:
		if o, ok := c.observer.(PlayerAnsweredObserver); ok {
			o.OnPlayerAnswered(env.PlayerID)
		}
	}
}

func readPump(ws *websocket.Conn, frames chan<- []byte, readErr chan<- error, stop <-chan struct{}) {
	defer close(frames)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}

		select {
		case frames <- data:
		case <-stop:
			readErr <- nil
			return
		}
	}
}

// shutdown sends a close frame and gives the server a moment to answer it.
// Frames still arriving are discarded.
func shutdown(ws *websocket.Conn, frames <-chan []byte) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		return
	}

	timer := time.NewTimer(closeWait)
	defer timer.Stop()

	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-timer.C:
			return
		}
	}
}

func isNormalClose(err error) bool {
	return err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

type nopObserver struct{}

func (nopObserver) OnState(domain.Snapshot) {}
func (nopObserver) OnClose()                {}
func (nopObserver) OnError(error)           {}
