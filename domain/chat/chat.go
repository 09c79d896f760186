// Package chat provides value types and pure helpers for chat requests
// flowing through the gate.
package chat

import (
	"strings"
)

// Request is an inbound chat request after decoding (value type).
type Request struct {
	APIKey    string
	Message   string
	MaxTokens int64 // 0 = use the configured per-request default

	// Metadata for logging
	RemoteIP string
	TraceID  string
}

// ValidationError reports a request the gate rejects before any
// accounting happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validate checks the request fields the gate cannot default.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Msg: "message is required"}
	}
	if r.MaxTokens < 0 {
		return &ValidationError{Msg: "max_tokens must be positive"}
	}
	return nil
}

// Result is a completed chat exchange (value type).
type Result struct {
	Caller         string // resolved caller name, for labels and logs
	Text           string
	TokensUsed     int64
	RemainingToday int64
	LatencyMs      int64
}

// UpstreamRequest carries what the model client needs for one completion.
type UpstreamRequest struct {
	SystemPrompt string // optional, prepended as a system message
	Message      string
	MaxTokens    int64
}

// UpstreamResult carries the model output and its token accounting.
type UpstreamResult struct {
	Text       string
	TokensUsed int64
}

// MaskKey renders a credential safe for logs: first three and last three
// characters with the middle elided. Keys too short to mask usefully
// render as *** entirely.
func MaskKey(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return key[:3] + "***" + key[len(key)-3:]
}

// TruncateMessage caps a message at max runes for logging, appending an
// ellipsis when it was cut. Counting runes keeps multi-byte text intact.
func TruncateMessage(msg string, max int) string {
	if max <= 0 {
		return msg
	}
	runes := []rune(msg)
	if len(runes) <= max {
		return msg
	}
	return string(runes[:max]) + "..."
}
