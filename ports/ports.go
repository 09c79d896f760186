// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/llmgate/domain/chat"
	"github.com/artpar/llmgate/domain/key"
	"github.com/artpar/llmgate/domain/usage"
)

// ErrKeyNotFound is returned when no key matches a presented credential.
var ErrKeyNotFound = errors.New("api key not found")

// ErrPromptNotFound is returned when no active prompt exists for a name.
var ErrPromptNotFound = errors.New("prompt not found")

// ErrNegativeUnits is returned when an admission operation is asked to
// account for a negative token amount.
var ErrNegativeUnits = errors.New("requested units must be non-negative")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher provides password/key hashing.
type Hasher interface {
	// Hash generates a hash from a plaintext value.
	Hash(plaintext string) ([]byte, error)

	// Compare checks if plaintext matches hash.
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Admission Ports
// -----------------------------------------------------------------------------

// Remaining reports a subject's current headroom across all limits.
type Remaining struct {
	PerSecond int
	PerMinute int
	PerDay    int64
}

// Admission decides whether requests may proceed under the configured
// rate and token limits, and accounts for tokens actually consumed.
type Admission interface {
	// Admit reserves a request slot for subject if all limits allow a
	// request of units tokens. On denial no slot is consumed for rate
	// limit errors; quota denials keep the already reserved slot.
	Admit(ctx context.Context, subject string, units int64) error

	// RecordUsage commits tokens actually consumed by a completed
	// request and returns the subject's remaining daily allowance.
	RecordUsage(ctx context.Context, subject string, units int64) (int64, error)

	// Remaining reports current headroom without consuming anything.
	Remaining(ctx context.Context, subject string) (Remaining, error)
}

// -----------------------------------------------------------------------------
// Credential Ports
// -----------------------------------------------------------------------------

// KeyResolver authenticates a presented API key.
type KeyResolver interface {
	// Resolve returns the identity a presented key belongs to, or
	// ErrKeyNotFound when the key is unknown, malformed, or revoked.
	Resolve(ctx context.Context, presented string) (key.Identity, error)
}

// KeyStore persists issued API keys.
type KeyStore interface {
	// Get retrieves keys matching a prefix (for validation).
	Get(ctx context.Context, prefix string) ([]key.Key, error)

	// Create stores a new key.
	Create(ctx context.Context, k key.Key) error

	// Revoke marks a key as revoked.
	Revoke(ctx context.Context, id string, at time.Time) error

	// UpdateLastUsed updates the last used timestamp.
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// Prompt is one active system prompt version.
type Prompt struct {
	Name    string
	Version int
	Content string
}

// PromptStore resolves system prompts by name.
type PromptStore interface {
	// Active returns the highest active version of the named prompt,
	// or ErrPromptNotFound when none exists.
	Active(ctx context.Context, name string) (Prompt, error)
}

// UsageStore persists usage events and summaries.
type UsageStore interface {
	// RecordBatch stores multiple usage events.
	RecordBatch(ctx context.Context, events []usage.Event) error

	// DailyTotals returns per-day totals for a subject, newest first.
	DailyTotals(ctx context.Context, subjectName string, days int) ([]usage.DailyTotal, error)

	// Cleanup removes events created before the cutoff and reports how
	// many rows were deleted.
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// UpstreamError is a failure reported by the upstream model API.
// StatusCode is the HTTP status the gate should relay for it.
type UpstreamError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (%s): %s", e.Type, e.Message)
}

// ChatClient talks to the upstream LLM API.
type ChatClient interface {
	// Chat sends a completion request and waits for the full answer.
	Chat(ctx context.Context, req chat.UpstreamRequest) (chat.UpstreamResult, error)

	// ChatStream sends a completion request and delivers text chunks
	// as they arrive. Delivery stops at the first deliver error; the
	// returned result carries the token count reported by the
	// upstream.
	ChatStream(ctx context.Context, req chat.UpstreamRequest, deliver func(chunk string) error) (chat.UpstreamResult, error)

	// HealthCheck verifies the upstream is reachable.
	HealthCheck(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// Event Ports
// -----------------------------------------------------------------------------

// UsageRecorder accepts usage events for async processing.
type UsageRecorder interface {
	// Record queues a usage event for processing.
	// This should be non-blocking.
	Record(event usage.Event)

	// Flush forces immediate processing of queued events.
	Flush(ctx context.Context) error

	// Close stops the recorder and flushes remaining events.
	Close() error
}
