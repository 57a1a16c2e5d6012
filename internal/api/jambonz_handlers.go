package api

import (
	"bytes"
	"net/http"

	"github.com/flowpbx/streamecho/internal/jambonz"
	"github.com/flowpbx/streamecho/internal/session"
)

// handleWebhook answers the call webhook with a listen directive. POST bodies
// are JSON; GET webhooks carry the same fields as query parameters. A POST
// with an empty body falls back to the query string.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	req := jambonz.CallRequestFromQuery(r.URL.Query())

	if r.Method == http.MethodPost {
		var body jambonz.CallRequest
		switch msg := readJSON(r, &body); msg {
		case "":
			if body.ID() == "" {
				body.CallSid, body.CallSidAlt = req.CallSid, req.CallSidAlt
			}
			req = body
		case msgEmptyBody:
		default:
			s.logger.Warn("rejecting call webhook", "error", msg)
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}

	callID, resp := s.ctrl.HandleWebhook(req)
	s.logger.Debug("call webhook answered", "call_id", callID, "stream_url", s.ctrl.StreamURL(callID))
	writeVerbs(w, http.StatusOK, resp)
}

// handleStatus applies a listen actionHook callback and acknowledges it with
// an empty verb list. An empty body is treated as a callback with no fields.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body, msg := readBody(w, r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	cb, err := jambonz.ParseStatusCallback(body)
	if err != nil {
		s.logger.Warn("rejecting status callback", "error", err)
		writeError(w, http.StatusBadRequest, decodeErrorMessage(err))
		return
	}

	callID, state := cb.ID(), cb.State()
	if callID == "" {
		s.logger.Warn("status callback without call id",
			"status", state,
			"error", session.ErrMissingCallID,
		)
	}
	s.logger.Debug("status callback received", "call_id", callID, "status", state, "payload", cb.Raw)

	writeVerbs(w, http.StatusOK, s.ctrl.OnStatusCallback(callID, state))
}
