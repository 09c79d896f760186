package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/artpar/llmgate/domain/key"
	"github.com/artpar/llmgate/ports"
)

// KeyStore implements ports.KeyStore using SQLite.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new SQLite key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

// Get retrieves keys matching a prefix.
func (s *KeyStore) Get(ctx context.Context, prefix string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, prefix, hash, created_at, last_used, revoked_at
		FROM api_keys
		WHERE prefix = ?
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []key.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, prefix, hash, created_at, last_used, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.Name, k.Prefix, k.Hash, k.CreatedAt.UTC(), nullTime(k.LastUsed), nullTime(k.RevokedAt))
	return err
}

// Revoke marks a key as revoked.
func (s *KeyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, at.UTC(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastUsed updates the last used timestamp.
func (s *KeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = ? WHERE id = ?
	`, at.UTC(), id)
	return err
}

// RevokeByPrefix revokes all live keys with the given prefix and
// returns how many were affected. The CLI identifies keys by prefix
// because that is all an operator ever sees.
func (s *KeyStore) RevokeByPrefix(ctx context.Context, prefix string, at time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = ? WHERE prefix = ? AND revoked_at IS NULL
	`, at.UTC(), prefix)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanKey(rows *sql.Rows) (key.Key, error) {
	var k key.Key
	var lastUsed, revokedAt sql.NullTime

	err := rows.Scan(&k.ID, &k.Name, &k.Prefix, &k.Hash, &k.CreatedAt, &lastUsed, &revokedAt)
	if err != nil {
		return key.Key{}, err
	}

	if lastUsed.Valid {
		k.LastUsed = &lastUsed.Time
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Time
	}
	return k, nil
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
