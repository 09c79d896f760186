package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/llmgate/domain/usage"
	"github.com/artpar/llmgate/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore.
type UsageStore struct {
	mu     sync.RWMutex
	loc    *time.Location
	events []usage.Event
}

// NewUsageStore creates a new in-memory usage store. Days are computed
// in loc (UTC if nil).
func NewUsageStore(loc *time.Location) *UsageStore {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageStore{
		loc:    loc,
		events: make([]usage.Event, 0),
	}
}

// RecordBatch stores multiple usage events.
func (s *UsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	return nil
}

// DailyTotals returns per-day totals for a subject, newest first.
func (s *UsageStore) DailyTotals(ctx context.Context, subjectName string, days int) ([]usage.DailyTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Event
	for _, e := range s.events {
		if e.SubjectName == subjectName {
			matching = append(matching, e)
		}
	}

	totals := usage.Aggregate(matching, s.loc)
	if days > 0 && len(totals) > days {
		totals = totals[:days]
	}
	return totals, nil
}

// Cleanup removes events created before the cutoff.
func (s *UsageStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

// Drain returns all events and clears the store (for testing).
func (s *UsageStore) Drain() []usage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = make([]usage.Event, 0)
	return events
}

// Len returns the number of stored events (for testing).
func (s *UsageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
