package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/llmgate/domain/usage"
	"github.com/artpar/llmgate/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db  *DB
	loc *time.Location
}

// NewUsageStore creates a new SQLite usage store. Daily grouping uses
// loc (UTC if nil); events themselves are stored in UTC.
func NewUsageStore(db *DB, loc *time.Location) *UsageStore {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageStore{db: db, loc: loc}
}

// RecordBatch stores multiple usage events in one transaction.
func (s *UsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_events (
			id, subject_name, key_prefix, endpoint, status_code,
			tokens_used, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.ID, e.SubjectName, e.KeyPrefix, string(e.Endpoint), e.StatusCode,
			e.TokensUsed, e.LatencyMs, e.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DailyTotals returns per-day totals for a subject, newest first.
//
// Aggregation happens in Go rather than in SQL so day boundaries
// follow the configured timezone; strftime on the stored UTC
// timestamps would split days at UTC midnight.
func (s *UsageStore) DailyTotals(ctx context.Context, subjectName string, days int) ([]usage.DailyTotal, error) {
	query := `
		SELECT id, subject_name, key_prefix, endpoint, status_code,
		       tokens_used, latency_ms, created_at
		FROM usage_events
		WHERE subject_name = ?
	`
	args := []any{subjectName}
	if days > 0 {
		// One extra day of slack covers the offset between the
		// configured timezone and UTC.
		query += ` AND datetime(created_at) >= datetime('now', ?)`
		args = append(args, fmt.Sprintf("-%d days", days+1))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		var e usage.Event
		var endpoint string
		err := rows.Scan(&e.ID, &e.SubjectName, &e.KeyPrefix, &endpoint,
			&e.StatusCode, &e.TokensUsed, &e.LatencyMs, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.Endpoint = usage.Endpoint(endpoint)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totals := usage.Aggregate(events, s.loc)
	if days > 0 && len(totals) > days {
		totals = totals[:days]
	}
	return totals, nil
}

// Cleanup removes events created before the cutoff.
func (s *UsageStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM usage_events WHERE created_at < ?
	`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
