package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
	"github.com/xancrypt/xancrypt/ports"
)

// LedgerStore implements ports.LedgerStore using SQLite.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Find returns the entry selected by scope.
func (s *LedgerStore) Find(ctx context.Context, scope identity.Scope) (ledger.Entry, error) {
	return findEntry(ctx, s.db, scope)
}

// Append adds rec to the identity's entry, creating it if absent.
func (s *LedgerStore) Append(ctx context.Context, id identity.Identity, rec ledger.Record, now time.Time, window time.Duration) (ledger.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	entryID, err := appendRecord(ctx, tx, id, rec, now, window)
	if err != nil {
		return ledger.Entry{}, err
	}
	e, err := loadEntry(ctx, tx, entryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, fmt.Errorf("commit append: %w", err)
	}
	return e, nil
}

// Reserve checks the quota and appends rec inside one write transaction.
func (s *LedgerStore) Reserve(ctx context.Context, id identity.Identity, rec ledger.Record, cfg admission.Config, now time.Time) (admission.Decision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return admission.Decision{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var records []ledger.Record
	e, err := findEntry(ctx, tx, identity.Resolve(id))
	switch {
	case err == nil:
		records = e.Records
	case !errors.Is(err, ports.ErrEntryNotFound):
		return admission.Decision{}, err
	}

	d := admission.Check(records, cfg, rec.Files, now)
	if !d.Allowed || rec.Files <= 0 {
		return d, nil
	}

	if _, err := appendRecord(ctx, tx, id, rec, now, cfg.Window); err != nil {
		return admission.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return admission.Decision{}, fmt.Errorf("commit reserve: %w", err)
	}
	return d, nil
}

// Release removes a reserved record from whichever entry of scope holds it.
// The newest matching entry may have changed since the reservation, so the
// delete covers every entry the scope matches.
func (s *LedgerStore) Release(ctx context.Context, scope identity.Scope, recordID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := findEntryID(ctx, tx, scope); err != nil {
		return err
	}
	where, args, _ := scopeQuery(scope)
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM ledger_records
		WHERE id = ? AND entry_id IN (SELECT id FROM ledger_entries WHERE `+where+`)
	`, append([]any{recordID}, args...)...); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return tx.Commit()
}

// Reset clears the records of the matching entry.
func (s *LedgerStore) Reset(ctx context.Context, scope identity.Scope) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	entryID, err := findEntryID(ctx, tx, scope)
	if err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM ledger_records WHERE entry_id = ?`, entryID)
	if err != nil {
		return 0, fmt.Errorf("reset records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reset: %w", err)
	}
	return int(n), nil
}

// List returns entries ordered by most recent update.
func (s *LedgerStore) List(ctx context.Context, limit, offset int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, ip, user_id, updated_at
		FROM ledger_entries
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	var entries []ledger.Entry
	var ids []int64
	for rows.Next() {
		e, id, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		records, err := loadRecords(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		entries[i].Records = records
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return entries, nil
}

// Ping checks the database connection.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// appendRecord creates the entry if needed, prunes stale records and inserts rec.
func appendRecord(ctx context.Context, q querier, id identity.Identity, rec ledger.Record, now time.Time, window time.Duration) (int64, error) {
	entryID, err := findEntryID(ctx, q, identity.Resolve(id))
	switch {
	case errors.Is(err, ports.ErrEntryNotFound):
		entryID, err = insertEntry(ctx, q, id, now)
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		if _, err := q.ExecContext(ctx, `
			UPDATE ledger_entries SET
				device_id = CASE WHEN device_id = '' AND user_id = '' THEN ? ELSE device_id END,
				ip = CASE WHEN ip = '' AND user_id = '' THEN ? ELSE ip END,
				updated_at = ?
			WHERE id = ?
		`, id.DeviceID, id.IP, now.UnixNano(), entryID); err != nil {
			return 0, fmt.Errorf("touch entry: %w", err)
		}
	}

	cutoff := now.Add(-window).UnixNano()
	if _, err := q.ExecContext(ctx,
		`DELETE FROM ledger_records WHERE entry_id = ? AND time <= ?`, entryID, cutoff); err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO ledger_records (entry_id, id, time, files)
		VALUES (?, ?, ?, ?)
	`, entryID, rec.ID, rec.Time.UnixNano(), rec.Files); err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return entryID, nil
}

func insertEntry(ctx context.Context, q querier, id identity.Identity, now time.Time) (int64, error) {
	e := ledger.NewEntry(id.DeviceID, id.IP, id.UserID)
	if err := e.Validate(); err != nil {
		return 0, err
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries (device_id, ip, user_id, updated_at)
		VALUES (?, ?, ?, ?)
	`, e.DeviceID, e.IP, e.UserID, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	return result.LastInsertId()
}

// scopeQuery returns the WHERE clause and arguments selecting scope.
func scopeQuery(scope identity.Scope) (string, []any, bool) {
	if scope.Empty() {
		return "", nil, false
	}
	switch scope.Kind {
	case identity.ScopeUser:
		return "user_id = ?", []any{scope.UserID}, true
	case identity.ScopeDevice:
		switch {
		case scope.DeviceID != "" && scope.IP != "":
			return "user_id = '' AND (device_id = ? OR ip = ?)", []any{scope.DeviceID, scope.IP}, true
		case scope.DeviceID != "":
			return "user_id = '' AND device_id = ?", []any{scope.DeviceID}, true
		default:
			return "user_id = '' AND ip = ?", []any{scope.IP}, true
		}
	}
	return "", nil, false
}

func findEntryID(ctx context.Context, q querier, scope identity.Scope) (int64, error) {
	where, args, ok := scopeQuery(scope)
	if !ok {
		return 0, ports.ErrEntryNotFound
	}

	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT id FROM ledger_entries
		WHERE `+where+`
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ports.ErrEntryNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find entry: %w", err)
	}
	return id, nil
}

func findEntry(ctx context.Context, q querier, scope identity.Scope) (ledger.Entry, error) {
	id, err := findEntryID(ctx, q, scope)
	if err != nil {
		return ledger.Entry{}, err
	}
	return loadEntry(ctx, q, id)
}

func loadEntry(ctx context.Context, q querier, id int64) (ledger.Entry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, device_id, ip, user_id, updated_at
		FROM ledger_entries WHERE id = ?
	`, id)
	e, _, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, ports.ErrEntryNotFound
	}
	if err != nil {
		return ledger.Entry{}, err
	}

	e.Records, err = loadRecords(ctx, q, id)
	if err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func loadRecords(ctx context.Context, q querier, entryID int64) ([]ledger.Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, time, files FROM ledger_records
		WHERE entry_id = ?
		ORDER BY rowid
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	var records []ledger.Record
	for rows.Next() {
		var (
			r  ledger.Record
			ns int64
		)
		if err := rows.Scan(&r.ID, &ns, &r.Files); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Time = time.Unix(0, ns).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ledger.Entry, int64, error) {
	var (
		e       ledger.Entry
		id      int64
		updated int64
	)
	if err := row.Scan(&id, &e.DeviceID, &e.IP, &e.UserID, &updated); err != nil {
		return ledger.Entry{}, 0, err
	}
	e.ID = strconv.FormatInt(id, 10)
	e.UpdatedAt = time.Unix(0, updated).UTC()
	return e, id, nil
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
