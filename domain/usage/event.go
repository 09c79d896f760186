// Package usage provides usage event types and aggregation functions.
// All functions are pure - no side effects.
package usage

import "time"

// Endpoint identifies which operation produced a usage event.
type Endpoint string

const (
	EndpointChat       Endpoint = "chat"
	EndpointChatStream Endpoint = "chat_stream"
)

// Event records one completed request against the gate (immutable value
// type). TokensUsed is zero for requests denied before reaching the
// upstream model.
type Event struct {
	ID          string
	SubjectName string
	KeyPrefix   string
	Endpoint    Endpoint
	StatusCode  int
	TokensUsed  int64
	LatencyMs   int64
	CreatedAt   time.Time
}

// Denied reports whether the request was rejected before or by the
// upstream call.
func (e Event) Denied() bool {
	return e.StatusCode >= 400
}

// NewEvent builds a usage event for a finished request.
func NewEvent(id, subjectName, keyPrefix string, endpoint Endpoint, statusCode int, tokensUsed, latencyMs int64, at time.Time) Event {
	return Event{
		ID:          id,
		SubjectName: subjectName,
		KeyPrefix:   keyPrefix,
		Endpoint:    endpoint,
		StatusCode:  statusCode,
		TokensUsed:  tokensUsed,
		LatencyMs:   latencyMs,
		CreatedAt:   at,
	}
}

// DailyTotal summarizes one subject's traffic for one calendar day
// (value type).
type DailyTotal struct {
	Day          string
	SubjectName  string
	RequestCount int64
	TokensUsed   int64
	ErrorCount   int64
	AvgLatencyMs int64
}
