// Package stream adapts gorilla/websocket connections to the session
// controller: a bounded write queue drained by one writer goroutine, and a
// single read loop that turns frames into session events.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flowpbx/streamecho/internal/jambonz"
	"github.com/flowpbx/streamecho/internal/session"
	"github.com/gorilla/websocket"
)

// Subprotocol is the WebSocket subprotocol used by Jambonz listen streams.
const Subprotocol = "audio.jambonz.org"

var (
	// ErrSendQueueFull is returned when the write queue has no room.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrConnClosed is returned for sends after Close, and passed to pending
	// completions that were still queued when the connection closed.
	ErrConnClosed = errors.New("connection closed")
)

// Options tunes a stream connection.
type Options struct {
	QueueSize       int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	MaxMessageSize  int64
	MetadataTimeout time.Duration
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		QueueSize:       256,
		WriteTimeout:    5 * time.Second,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		MaxMessageSize:  1 << 20,
		MetadataTimeout: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.MetadataTimeout <= 0 {
		o.MetadataTimeout = d.MetadataTimeout
	}
	return o
}

// NewUpgrader returns the upgrader for platform stream connections. Origin is
// not checked: the platform is not a browser and sends none.
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{Subprotocol},
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

type outbound struct {
	messageType int
	data        []byte
	done        func(error)
}

// Conn implements session.Conn over a WebSocket.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	logger *slog.Logger
	queue  chan outbound

	mu          sync.RWMutex
	closed      bool
	closeCode   int
	closeReason string
	closing     chan struct{}
	writerDone  chan struct{}
}

// NewConn wraps ws and starts its writer goroutine.
func NewConn(ws *websocket.Conn, opts Options, logger *slog.Logger) *Conn {
	c := newConn(ws, opts, logger)
	go c.writeLoop()
	return c
}

func newConn(ws *websocket.Conn, opts Options, logger *slog.Logger) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		ws:         ws,
		opts:       opts,
		logger:     logger,
		queue:      make(chan outbound, opts.QueueSize),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// SendText queues a text frame.
func (c *Conn) SendText(data []byte, done func(error)) error {
	return c.enqueue(websocket.TextMessage, data, done)
}

// SendBinary queues a binary frame.
func (c *Conn) SendBinary(data []byte, done func(error)) error {
	return c.enqueue(websocket.BinaryMessage, data, done)
}

func (c *Conn) enqueue(messageType int, data []byte, done func(error)) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.queue <- outbound{messageType: messageType, data: data, done: done}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close closes the connection with a normal closure. It is safe to call more
// than once; only the first call has an effect.
func (c *Conn) Close() error {
	return c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason closes the connection sending code and reason in the close
// frame. Frames still queued are not written; their completions receive
// ErrConnClosed.
func (c *Conn) CloseWithReason(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.closing)
	return nil
}

// Done is closed once the writer has released the underlying socket.
func (c *Conn) Done() <-chan struct{} {
	return c.writerDone
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer close(c.writerDone)

	for {
		select {
		case m := <-c.queue:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)) //nolint:errcheck
			err := c.ws.WriteMessage(m.messageType, m.data)
			if m.done != nil {
				m.done(err)
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("stream ping failed", "error", err)
			}
		case <-c.closing:
			c.shutdownWriter()
			return
		}
	}
}

// shutdownWriter fails queued frames, sends the close frame and releases the
// socket, which also unblocks the read loop.
func (c *Conn) shutdownWriter() {
drain:
	for {
		select {
		case m := <-c.queue:
			if m.done != nil {
				m.done(ErrConnClosed)
			}
		default:
			break drain
		}
	}

	c.mu.RLock()
	code, reason := c.closeCode, c.closeReason
	c.mu.RUnlock()

	deadline := time.Now().Add(c.opts.WriteTimeout)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("failed to send close frame", "error", err)
	}
	if err := c.ws.Close(); err != nil {
		c.logger.Debug("failed to close stream socket", "error", err)
	}
}

// ReadMetadata reads the first frame, which must be the platform's JSON text
// metadata, and returns the call identifier it carries.
func (c *Conn) ReadMetadata() (string, error) {
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.opts.MetadataTimeout)) //nolint:errcheck

	messageType, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("reading stream metadata: %w", err)
	}
	if messageType != websocket.TextMessage {
		return "", fmt.Errorf("reading stream metadata: expected text frame, got type %d", messageType)
	}

	var md jambonz.StreamMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return "", fmt.Errorf("decoding stream metadata: %w", err)
	}
	if md.ID() == "" {
		return "", fmt.Errorf("stream metadata: %w", session.ErrMissingCallID)
	}
	return md.ID(), nil
}

// ReadLoop reads frames until the socket fails and hands each one to dispatch
// in arrival order. It ends with exactly one EventClose or EventError.
func (c *Conn) ReadLoop(dispatch func(session.Event)) {
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait)) //nolint:errcheck
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			dispatch(c.terminalEvent(err))
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait)) //nolint:errcheck

		switch messageType {
		case websocket.BinaryMessage:
			dispatch(session.Event{Kind: session.EventBinary, Data: data})
		case websocket.TextMessage:
			dispatch(session.Event{Kind: session.EventText, Data: data})
		}
	}
}

// terminalEvent classifies a read error. Local closes and clean closures from
// the peer are closes; anything else is an error.
func (c *Conn) terminalEvent(err error) session.Event {
	if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return session.Event{Kind: session.EventClose}
	}
	return session.Event{Kind: session.EventError, Err: err}
}
