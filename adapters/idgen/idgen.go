// Package idgen provides unique ID generation.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/artpar/llmgate/ports"
)

// UUID generates random UUIDv4 identifiers.
type UUID struct{}

// New returns a new UUID string.
func (UUID) New() string {
	return uuid.New().String()
}

// Sequential generates predictable IDs for tests.
type Sequential struct {
	prefix string
	n      atomic.Int64
}

// NewSequential creates a sequential generator. IDs look like
// "prefix-1", "prefix-2" and so on.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New returns the next ID in sequence.
func (s *Sequential) New() string {
	return fmt.Sprintf("%s-%d", s.prefix, s.n.Add(1))
}

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
