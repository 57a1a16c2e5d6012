package jambonz

import (
	"encoding/json"
	"net/url"
)

// Listen status values reported to the actionHook.
const (
	StatusStarted  = "started"
	StatusFinished = "finished"
	StatusError    = "error"
)

// CallRequest is the subset of a call webhook payload this service reads.
// The platform sends snake_case; some clients send camelCase.
type CallRequest struct {
	CallSid    string `json:"call_sid"`
	CallSidAlt string `json:"callSid"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Direction  string `json:"direction,omitempty"`
}

// ID returns the call identifier, preferring call_sid.
func (r CallRequest) ID() string {
	if r.CallSid != "" {
		return r.CallSid
	}
	return r.CallSidAlt
}

// CallRequestFromQuery reads a CallRequest from GET webhook query parameters.
func CallRequestFromQuery(q url.Values) CallRequest {
	return CallRequest{
		CallSid:    q.Get("call_sid"),
		CallSidAlt: q.Get("callSid"),
		From:       q.Get("from"),
		To:         q.Get("to"),
		Direction:  q.Get("direction"),
	}
}

// StatusCallback is posted to the listen actionHook.
type StatusCallback struct {
	CallSid      string `json:"call_sid"`
	CallSidAlt   string `json:"callSid"`
	ListenStatus string `json:"listen_status"`
	Status       string `json:"status"`

	// Raw holds the full body for logging.
	Raw map[string]any `json:"-"`
}

// ID returns the call identifier, preferring call_sid.
func (s StatusCallback) ID() string {
	if s.CallSid != "" {
		return s.CallSid
	}
	return s.CallSidAlt
}

// State returns listen_status, falling back to status.
func (s StatusCallback) State() string {
	if s.ListenStatus != "" {
		return s.ListenStatus
	}
	return s.Status
}

// ParseStatusCallback decodes a status callback body. Non-string fields the
// platform adds are tolerated and kept in Raw.
func ParseStatusCallback(body []byte) (StatusCallback, error) {
	var sc StatusCallback
	if err := json.Unmarshal(body, &sc); err != nil {
		return StatusCallback{}, err
	}
	raw := make(map[string]any)
	if err := json.Unmarshal(body, &raw); err == nil {
		sc.Raw = raw
	}
	return sc, nil
}

// StreamMetadata is the JSON text frame the platform sends first on a listen
// socket. Only the call identifier fields are read.
type StreamMetadata struct {
	CallSid    string `json:"callSid"`
	CallSidAlt string `json:"call_sid"`
}

// ID returns the call identifier carried in the metadata.
func (m StreamMetadata) ID() string {
	if m.CallSid != "" {
		return m.CallSid
	}
	return m.CallSidAlt
}
