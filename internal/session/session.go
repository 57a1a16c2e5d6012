package session

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind identifies a connection event.
type EventKind int

const (
	EventBinary EventKind = iota + 1 // binary audio frame
	EventText                        // text frame (metadata or control)
	EventClose                       // peer closed the socket
	EventError                       // transport error; the socket is unusable
)

func (k EventKind) String() string {
	switch k {
	case EventBinary:
		return "binary"
	case EventText:
		return "text"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single connection event delivered to Session.Dispatch.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// EndReason records what triggered teardown.
type EndReason string

const (
	ReasonStatusFinished EndReason = "status_finished"
	ReasonStatusError    EndReason = "status_error"
	ReasonSocketClosed   EndReason = "socket_closed"
	ReasonSocketError    EndReason = "socket_error"
	ReasonShutdown       EndReason = "shutdown"
)

// AllReasons lists every EndReason, in a stable order.
var AllReasons = []EndReason{
	ReasonStatusFinished,
	ReasonStatusError,
	ReasonSocketClosed,
	ReasonSocketError,
	ReasonShutdown,
}

// CallState is a point-in-time copy of a session's call state.
type CallState struct {
	RedirectSent        bool
	AudioFramesReceived uint64
	StartTime           time.Time
	Closed              bool
}

// Session is one live bidirectional audio stream.
type Session struct {
	CallID    string
	ConnID    string
	CreatedAt time.Time

	conn   Conn
	ctrl   *Controller
	logger *slog.Logger

	mu             sync.Mutex
	redirectSent   bool
	framesReceived uint64
	closed         bool
	timer          Timer
}

// State returns a snapshot of the call state.
func (s *Session) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CallState{
		RedirectSent:        s.redirectSent,
		AudioFramesReceived: s.framesReceived,
		StartTime:           s.CreatedAt,
		Closed:              s.closed,
	}
}

// RedirectSent reports whether the redirect command was delivered.
func (s *Session) RedirectSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirectSent
}

// FramesReceived returns the number of binary frames received.
func (s *Session) FramesReceived() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesReceived
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dispatch handles one event from the session's connection. The transport
// calls it from a single read loop, so events for a session are ordered.
func (s *Session) Dispatch(ev Event) {
	switch ev.Kind {
	case EventBinary:
		s.ctrl.echo(s, ev.Data)
	case EventText:
		s.logger.Debug("text frame ignored", "bytes", len(ev.Data))
	case EventClose:
		s.logger.Info("stream disconnected")
		s.ctrl.endSession(s, ReasonSocketClosed)
	case EventError:
		s.logger.Error("stream error", "error", ev.Err)
		s.ctrl.endSession(s, ReasonSocketError)
	default:
		s.logger.Warn("unknown event kind", "kind", int(ev.Kind))
	}
}
