package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xancrypt/xancrypt/domain/history"
	"github.com/xancrypt/xancrypt/ports"
)

// HistoryStore implements ports.HistoryStore using SQLite.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore creates a new SQLite history store.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Append stores e. The dedup index turns a repeat into a no-op.
func (s *HistoryStore) Append(ctx context.Context, userID string, e history.Event) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO history_events
			(user_id, time, second, css_count, js_count, elapsed_sec, filename, link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, userID, e.Time.UnixNano(), e.Time.Unix(), e.CSSCount, e.JSCount, e.ElapsedSec, e.Filename, e.Link)
	if err != nil {
		return false, fmt.Errorf("insert history event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns the user's events, newest first.
func (s *HistoryStore) List(ctx context.Context, userID string) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, css_count, js_count, elapsed_sec, filename, link
		FROM history_events
		WHERE user_id = ?
		ORDER BY time DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	events := []history.Event{}
	for rows.Next() {
		var (
			e  history.Event
			ns int64
		)
		if err := rows.Scan(&ns, &e.CSSCount, &e.JSCount, &e.ElapsedSec, &e.Filename, &e.Link); err != nil {
			return nil, fmt.Errorf("scan history event: %w", err)
		}
		e.Time = time.Unix(0, ns).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Clear removes every event of the user.
func (s *HistoryStore) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history_events WHERE user_id = ?`, userID)
	return err
}

// Ensure interface compliance.
var _ ports.HistoryStore = (*HistoryStore)(nil)
