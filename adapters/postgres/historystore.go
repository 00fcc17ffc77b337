package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xancrypt/xancrypt/domain/history"
	"github.com/xancrypt/xancrypt/ports"
)

// HistoryStore implements ports.HistoryStore using PostgreSQL.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a new PostgreSQL history store.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Append stores e unless the unique constraint marks it as a repeat.
func (s *HistoryStore) Append(ctx context.Context, userID string, e history.Event) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO history_events
			(user_id, time, second, css_count, js_count, elapsed_sec, filename, link)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, second, css_count, js_count) DO NOTHING
	`, userID, e.Time, e.Time.Unix(), e.CSSCount, e.JSCount, e.ElapsedSec, e.Filename, e.Link)
	if err != nil {
		return false, fmt.Errorf("insert history event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns the user's events, newest first.
func (s *HistoryStore) List(ctx context.Context, userID string) ([]history.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT time, css_count, js_count, elapsed_sec, filename, link
		FROM history_events
		WHERE user_id = $1
		ORDER BY time DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	events := []history.Event{}
	for rows.Next() {
		var e history.Event
		if err := rows.Scan(&e.Time, &e.CSSCount, &e.JSCount, &e.ElapsedSec, &e.Filename, &e.Link); err != nil {
			return nil, fmt.Errorf("scan history event: %w", err)
		}
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Clear removes every event of the user.
func (s *HistoryStore) Clear(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM history_events WHERE user_id = $1`, userID)
	return err
}

// Ensure interface compliance.
var _ ports.HistoryStore = (*HistoryStore)(nil)
