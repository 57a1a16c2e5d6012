package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeLog(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestStructuredLoggerDefaultStatus(t *testing.T) {
	var buf bytes.Buffer
	handler := StructuredLogger(jsonLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/jambonz/webhook", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	entry := decodeLog(t, &buf)
	if entry["method"] != "POST" {
		t.Fatalf("expected method POST, got %v", entry["method"])
	}
	if entry["path"] != "/jambonz/webhook" {
		t.Fatalf("expected path /jambonz/webhook, got %v", entry["path"])
	}
	// JSON numbers decode as float64.
	if entry["status"] != float64(200) {
		t.Fatalf("expected status 200, got %v", entry["status"])
	}
	if entry["level"] != "INFO" {
		t.Fatalf("expected INFO, got %v", entry["level"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Fatal("expected duration_ms in log output")
	}
}

func TestStructuredLoggerLevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusBadRequest, "WARN"},
		{http.StatusNotFound, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			handler := StructuredLogger(jsonLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

			entry := decodeLog(t, &buf)
			if entry["status"] != float64(tt.status) {
				t.Fatalf("expected status %d, got %v", tt.status, entry["status"])
			}
			if entry["level"] != tt.level {
				t.Fatalf("expected level %s, got %v", tt.level, entry["level"])
			}
		})
	}
}

func TestStructuredLoggerDoubleWriteHeader(t *testing.T) {
	var buf bytes.Buffer
	handler := StructuredLogger(jsonLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusInternalServerError) // Should be ignored.
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	entry := decodeLog(t, &buf)
	if entry["status"] != float64(201) {
		t.Fatalf("expected first status 201, got %v", entry["status"])
	}
}

// hijackableRecorder is a ResponseRecorder that supports Hijack.
type hijackableRecorder struct {
	*httptest.ResponseRecorder
	server, client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(bufio.NewReader(h.server), bufio.NewWriter(h.server))
	return h.server, rw, nil
}

func TestStatusRecorderHijack(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	var buf bytes.Buffer
	base := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder(), server: server, client: client}
	handler := StructuredLogger(jsonLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Hijacker")
		}
		if _, _, err := hj.Hijack(); err != nil {
			t.Fatalf("Hijack: %v", err)
		}
	}))

	handler.ServeHTTP(base, httptest.NewRequest(http.MethodGet, "/audio-stream/abc", nil))

	entry := decodeLog(t, &buf)
	if entry["upgraded"] != true {
		t.Fatalf("expected upgraded=true, got %v", entry["upgraded"])
	}
	if entry["status"] != float64(http.StatusSwitchingProtocols) {
		t.Fatalf("expected status 101, got %v", entry["status"])
	}
}

func TestStatusRecorderHijackUnsupported(t *testing.T) {
	w := newStatusRecorder(httptest.NewRecorder())
	if _, _, err := w.Hijack(); err == nil {
		t.Fatal("expected error when underlying writer cannot hijack")
	}
	if w.hijacked {
		t.Fatal("hijacked should stay false on error")
	}
}

func TestStatusRecorderCapturesStatus(t *testing.T) {
	w := newStatusRecorder(httptest.NewRecorder())
	if w.status != http.StatusOK {
		t.Fatalf("expected default status 200, got %d", w.status)
	}

	w.WriteHeader(http.StatusBadRequest)
	if w.status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.status)
	}
}
