package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxRequestBodySize is the upper limit for webhook request bodies (1 MB).
const maxRequestBodySize = 1 << 20

// Messages returned by readJSON.
const (
	msgEmptyBody    = "request body must not be empty"
	msgMalformed    = "malformed json"
	msgSingleObject = "request body must contain a single json object"
	msgTooLarge     = "request body too large"
)

// envelope is the standard API response wrapper.
// All JSON responses use this format: { "data": ..., "error": ... }
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code and data payload.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		slog.Error("failed to encode json error response", "error", err)
	}
}

// writeVerbs writes a bare verb array. Jambonz webhook and actionHook
// responses are not wrapped in the envelope.
func writeVerbs(w http.ResponseWriter, status int, verbs json.Marshaler) {
	body, err := verbs.MarshalJSON()
	if err != nil {
		slog.Error("failed to encode verb response", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

// readBody reads the request body up to maxRequestBodySize.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, msgTooLarge
		}
		return nil, "failed to read request body"
	}
	return body, ""
}

// readJSON decodes a JSON request body into dst with size limiting. Unknown
// fields are accepted since the platform adds fields over time.
// Returns a user-friendly error string on failure, or "" on success.
func readJSON(r *http.Request, dst any) string {
	if r.Body == nil {
		return msgEmptyBody
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return decodeErrorMessage(err)
	}
	if dec.More() {
		return msgSingleObject
	}
	return ""
}

func decodeErrorMessage(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return msgEmptyBody
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return msgMalformed
	case errors.As(err, &typeErr):
		if typeErr.Field != "" {
			return fmt.Sprintf("invalid value for field %q", typeErr.Field)
		}
		return msgMalformed
	case errors.As(err, &tooLarge):
		return msgTooLarge
	case strings.HasPrefix(err.Error(), "json: "):
		return msgMalformed
	default:
		return "invalid request body"
	}
}
