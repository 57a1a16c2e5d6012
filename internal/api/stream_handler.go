package api

import (
	"errors"
	"net/http"

	"github.com/flowpbx/streamecho/internal/session"
	"github.com/flowpbx/streamecho/internal/stream"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Close reasons sent when a stream is refused after the upgrade.
const (
	reasonDuplicate = "duplicate session"
	reasonMissingID = "missing call id"
	reasonInternal  = "internal error"
	reasonShutdown  = "server shutting down"
)

// handleStream upgrades a listen stream and runs it until it ends. The call
// id comes from the path, or from the first metadata frame when the path has
// none.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.streams.Add(1)
	defer s.streams.Done()

	callID := chi.URLParam(r, "callSid")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("stream upgrade failed", "call_id", callID, "error", err)
		return
	}
	conn := stream.NewConn(ws, s.opts.Stream, s.logger.With("call_id", callID))

	if callID == "" {
		callID, err = conn.ReadMetadata()
		if err != nil {
			s.logger.Warn("stream closed before call id", "error", err)
			s.refuse(conn, websocket.ClosePolicyViolation, reasonMissingID)
			return
		}
	}

	sess, err := s.ctrl.OnConnectionEstablished(callID, conn)
	switch {
	case errors.Is(err, session.ErrDuplicateSession):
		s.refuse(conn, websocket.ClosePolicyViolation, reasonDuplicate)
		return
	case errors.Is(err, session.ErrShuttingDown):
		s.refuse(conn, websocket.CloseGoingAway, reasonShutdown)
		return
	case errors.Is(err, session.ErrMissingCallID):
		s.refuse(conn, websocket.ClosePolicyViolation, reasonMissingID)
		return
	case err != nil:
		s.logger.Error("failed to register stream", "call_id", callID, "error", err)
		s.refuse(conn, websocket.CloseInternalServerErr, reasonInternal)
		return
	}

	conn.ReadLoop(sess.Dispatch)

	// The terminal event has already ended the session; Close is a no-op.
	conn.Close() //nolint:errcheck
	<-conn.Done()
}

// refuse closes a connection that never became a session and waits for the
// close frame to go out.
func (s *Server) refuse(conn *stream.Conn, code int, reason string) {
	conn.CloseWithReason(code, reason) //nolint:errcheck
	<-conn.Done()
}
