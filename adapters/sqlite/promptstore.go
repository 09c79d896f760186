package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/artpar/llmgate/ports"
)

// PromptStore implements ports.PromptStore using SQLite, with a small
// TTL cache in front. Prompts change rarely and are read on every chat
// request, so one query per name per TTL is plenty.
type PromptStore struct {
	db    *DB
	clock ports.Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]promptEntry
}

type promptEntry struct {
	prompt  ports.Prompt
	expires time.Time
}

// NewPromptStore creates a prompt store. ttl <= 0 disables caching.
func NewPromptStore(db *DB, clk ports.Clock, ttl time.Duration) *PromptStore {
	return &PromptStore{
		db:    db,
		clock: clk,
		ttl:   ttl,
		cache: make(map[string]promptEntry),
	}
}

// Active returns the highest active version of the named prompt.
func (s *PromptStore) Active(ctx context.Context, name string) (ports.Prompt, error) {
	now := s.clock.Now()
	if s.ttl > 0 {
		s.mu.RLock()
		e, ok := s.cache[name]
		s.mu.RUnlock()
		if ok && now.Before(e.expires) {
			return e.prompt, nil
		}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT pt.name, pv.version, pv.content
		FROM prompt_versions pv
		JOIN prompt_types pt ON pv.prompt_type_id = pt.id
		WHERE pt.name = ? AND pv.is_active = 1
		ORDER BY pv.version DESC
		LIMIT 1
	`, name)

	var p ports.Prompt
	err := row.Scan(&p.Name, &p.Version, &p.Content)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Prompt{}, ports.ErrPromptNotFound
	}
	if err != nil {
		return ports.Prompt{}, err
	}

	if s.ttl > 0 {
		s.mu.Lock()
		s.cache[name] = promptEntry{prompt: p, expires: now.Add(s.ttl)}
		s.mu.Unlock()
	}
	return p, nil
}

// Invalidate drops a cached prompt so the next Active hits the
// database.
func (s *PromptStore) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, name)
}

// Ensure interface compliance.
var _ ports.PromptStore = (*PromptStore)(nil)
