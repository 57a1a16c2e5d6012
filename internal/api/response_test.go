package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flowpbx/streamecho/internal/jambonz"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"name": "test"})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type application/json, got %q", ct)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if env.Error != "" {
		t.Errorf("expected empty error, got %q", env.Error)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected data to be map, got %T", env.Data)
	}
	if data["name"] != "test" {
		t.Errorf("expected name=test, got %v", data["name"])
	}
	if strings.Contains(w.Body.String(), `"error"`) {
		t.Errorf("expected error field to be omitted, got %s", w.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "invalid input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if env.Error != "invalid input" {
		t.Errorf("expected error 'invalid input', got %q", env.Error)
	}
	if env.Data != nil {
		t.Errorf("expected nil data, got %v", env.Data)
	}
}

func TestWriteVerbs(t *testing.T) {
	w := httptest.NewRecorder()
	writeVerbs(w, http.StatusOK, jambonz.WebhookResponse{})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type application/json, got %q", ct)
	}
	if body := w.Body.String(); body != "[]" {
		t.Errorf("expected bare empty array, got %s", body)
	}
}

func TestReadJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"success", `{"call_sid":"abc","from":"+1555"}`, ""},
		{"unknown fields allowed", `{"call_sid":"abc","account_sid":"x","sip":{"headers":{}}}`, ""},
		{"empty body", "", msgEmptyBody},
		{"malformed", "{bad", msgMalformed},
		{"truncated", `{"call_sid":"abc"`, msgMalformed},
		{"multiple objects", `{"call_sid":"a"}{"call_sid":"b"}`, msgSingleObject},
		{"wrong type", `{"call_sid":42}`, `invalid value for field "call_sid"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst jambonz.CallRequest
			if got := readJSON(r, &dst); got != tt.wantMsg {
				t.Fatalf("readJSON() = %q, want %q", got, tt.wantMsg)
			}
			if tt.wantMsg == "" && dst.ID() != "abc" {
				t.Errorf("expected call id abc, got %q", dst.ID())
			}
		})
	}
}

func TestReadBodyTooLarge(t *testing.T) {
	body := strings.Repeat("a", maxRequestBodySize+1)
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	w := httptest.NewRecorder()

	if _, msg := readBody(w, r); msg != msgTooLarge {
		t.Fatalf("expected %q, got %q", msgTooLarge, msg)
	}
}

func TestEnvelope_JSONFormat(t *testing.T) {
	e := envelope{Data: map[string]string{"id": "1"}}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if !strings.Contains(string(b), `"data"`) {
		t.Error("expected 'data' field in output")
	}
	if strings.Contains(string(b), `"error"`) {
		t.Error("expected 'error' field to be omitted")
	}

	e = envelope{Error: "bad request"}
	b, err = json.Marshal(e)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if !strings.Contains(string(b), `"error":"bad request"`) {
		t.Errorf("expected error field, got %s", string(b))
	}
}
