// Package socket wraps one WebSocket to a remote service with an explicit
// connecting/open/closing/closed lifecycle and a send policy for frames
// written before the connection opens.
package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"livescribe/internal/domain"
	"livescribe/internal/metrics"
)

// State is the connection lifecycle.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SendPolicy decides what happens to sends while the socket is connecting.
type SendPolicy int

const (
	// QueuePending keeps frames in a FIFO and flushes them once open.
	QueuePending SendPolicy = iota
	// DropWhenNotOpen rejects frames with domain.ErrSocketNotOpen.
	DropWhenNotOpen
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 1 << 20
	defaultInboxDepth       = 64
	defaultCloseGrace       = time.Second
)

// Options configures a connection.
type Options struct {
	URL              string
	Endpoint         string
	Policy           SendPolicy
	HandshakeTimeout time.Duration
	ReadLimit        int64
	InboxDepth       int
	CloseGrace       time.Duration
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
}

// Frame is one outbound WebSocket message.
type Frame struct {
	Binary bool
	Data   []byte
}

// Conn is a WebSocket connection that dials in the background.
//
// Inbound payloads are delivered on Incoming, which is closed when the
// connection ends. Callers must keep draining it until Close is called;
// payloads that arrive after that are discarded if nobody reads them.
type Conn struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	pending []Frame
	wake    chan struct{}

	incoming chan []byte
	opened   chan struct{}
	closing  chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Dial starts connecting and returns immediately. The connection follows ctx:
// cancelling it closes the socket.
func Dial(ctx context.Context, opts Options) *Conn {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.InboxDepth <= 0 {
		opts.InboxDepth = defaultInboxDepth
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = defaultCloseGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		opts:     opts,
		logger:   logger.With(zap.String("endpoint", opts.Endpoint)),
		state:    StateConnecting,
		wake:     make(chan struct{}, 1),
		incoming: make(chan []byte, opts.InboxDepth),
		opened:   make(chan struct{}),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	go c.run(ctx)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
	return c
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Opened is closed once the handshake succeeds.
func (c *Conn) Opened() <-chan struct{} {
	return c.opened
}

// Done is closed once the connection has fully shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Incoming() <-chan []byte {
	return c.incoming
}

// Err returns the first abnormal failure, if any. Normal closes are not errors.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send writes a frame according to the connection's send policy.
func (c *Conn) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateOpen:
	case StateConnecting:
		if c.opts.Policy == DropWhenNotOpen {
			c.dropLocked()
			return domain.ErrSocketNotOpen
		}
		c.opts.Metrics.FrameQueued(c.opts.Endpoint)
	default:
		c.dropLocked()
		return domain.ErrSocketNotOpen
	}

	c.pending = append(c.pending, Frame{Binary: frame.Binary, Data: append([]byte(nil), frame.Data...)})
	c.notify()
	return nil
}

func (c *Conn) dropLocked() {
	c.opts.Metrics.SendDropped(c.opts.Endpoint)
	c.logger.Warn("dropping send on socket that is not open", zap.Stringer("state", c.state))
}

func (c *Conn) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close flushes frames already accepted, performs the close handshake and
// waits for shutdown. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.mu.Lock()
		switch c.state {
		case StateConnecting:
			c.state = StateClosing
			c.pending = nil
			c.cancel()
		case StateOpen:
			c.state = StateClosing
			c.notify()
		}
		c.mu.Unlock()
	})
	<-c.done
	return c.Err()
}

func (c *Conn) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.state = StateClosed
		c.pending = nil
		c.mu.Unlock()
		c.cancel()
		close(c.done)
	}()
	defer close(c.incoming)

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		if ctx.Err() == nil {
			c.setErr(fmt.Errorf("failed to connect to %s socket: %w", c.opts.Endpoint, err))
			c.logger.Error("socket dial failed", zap.Error(err))
		}
		return
	}
	ws.SetReadLimit(c.opts.ReadLimit)

	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateOpen
		close(c.opened)
	}
	c.mu.Unlock()
	c.logger.Debug("socket open")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readLoop(ws)
	}()

	c.writeLoop(ws, readDone)
	_ = ws.Close()
	<-readDone
}

func (c *Conn) writeLoop(ws *websocket.Conn, readDone <-chan struct{}) {
	for {
		frames, closing := c.takePending()
		for _, frame := range frames {
			msgType := websocket.TextMessage
			if frame.Binary {
				msgType = websocket.BinaryMessage
			}
			if err := ws.WriteMessage(msgType, frame.Data); err != nil {
				c.setErr(fmt.Errorf("failed to write %s frame: %w", c.opts.Endpoint, err))
				return
			}
			c.opts.Metrics.FrameSent(c.opts.Endpoint)
		}

		if closing {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			deadline := time.Now().Add(c.opts.CloseGrace)
			if err := ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
				return
			}
			select {
			case <-readDone:
			case <-time.After(c.opts.CloseGrace):
			}
			return
		}

		select {
		case <-c.wake:
		case <-readDone:
			c.mu.Lock()
			if c.state == StateOpen {
				c.state = StateClosing
			}
			c.mu.Unlock()
			return
		}
	}
}

func (c *Conn) takePending() ([]Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := c.pending
	c.pending = nil
	return frames, c.state == StateClosing
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if c.State() == StateOpen {
				c.setErr(fmt.Errorf("failed to read %s frame: %w", c.opts.Endpoint, err))
			}
			return
		}
		select {
		case c.incoming <- payload:
			continue
		default:
		}
		select {
		case c.incoming <- payload:
		case <-c.closing:
		}
	}
}

func (c *Conn) setErr(err error) {
	if err == nil {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return
		}
		c.logger.Warn("socket closed abnormally", zap.Int("code", closeErr.Code), zap.String("text", closeErr.Text))
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}
