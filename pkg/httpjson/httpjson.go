// Package httpjson provides helpers for reading and writing the JSON
// bodies the gate speaks on the wire.
package httpjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ContentType is the media type for all JSON responses.
const ContentType = "application/json"

// Error is the wire shape for every error the gate returns.
type Error struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Write writes v as a JSON response with the given status.
func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an error body with the given status.
func WriteError(w http.ResponseWriter, status int, message string) {
	Write(w, status, Error{Error: message})
}

// WriteErrorDetail writes an error body with a supporting detail line.
func WriteErrorDetail(w http.ResponseWriter, status int, message, detail string) {
	Write(w, status, Error{Error: message, Detail: detail})
}

// WriteBadRequest is a convenience for 400 errors.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteUnauthorized is a convenience for 401 errors.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// WriteForbidden is a convenience for 403 errors.
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message)
}

// WriteNotFound is a convenience for 404 errors.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// WriteTooManyRequests writes a 429 with a Retry-After header when a
// positive retry hint is known. The header value rounds up so clients
// never retry early.
func WriteTooManyRequests(w http.ResponseWriter, message string, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	WriteError(w, http.StatusTooManyRequests, message)
}

// WriteInternalError is a convenience for 500 errors.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}

// WriteBadGateway is a convenience for 502 errors.
func WriteBadGateway(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, message)
}

// maxBodyBytes caps request bodies. Chat messages are small; anything
// approaching this limit is not a legitimate request.
const maxBodyBytes = 1 << 20

// Decode reads a JSON request body into dst. Unknown fields are
// ignored, matching what lenient API clients expect.
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return fmt.Errorf("invalid request body: %w", err)
		}
	}
	return nil
}
