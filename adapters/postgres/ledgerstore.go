package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
	"github.com/xancrypt/xancrypt/ports"
)

// LedgerStore implements ports.LedgerStore using PostgreSQL.
//
// Writes for one identity are serialized with transaction-scoped advisory
// locks taken on each identity key, which also covers the case where the
// entry does not exist yet and there is no row to lock.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new PostgreSQL ledger store.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Find returns the entry selected by scope.
func (s *LedgerStore) Find(ctx context.Context, scope identity.Scope) (ledger.Entry, error) {
	return findEntry(ctx, s.pool, scope)
}

// Append adds rec to the identity's entry, creating it if absent.
func (s *LedgerStore) Append(ctx context.Context, id identity.Identity, rec ledger.Record, now time.Time, window time.Duration) (ledger.Entry, error) {
	var e ledger.Entry
	err := runInTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockIdentity(ctx, tx, id); err != nil {
			return err
		}
		entryID, err := appendRecord(ctx, tx, id, rec, now, window)
		if err != nil {
			return err
		}
		e, err = loadEntry(ctx, tx, entryID)
		return err
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

// Reserve checks the quota and appends rec while holding the identity locks.
func (s *LedgerStore) Reserve(ctx context.Context, id identity.Identity, rec ledger.Record, cfg admission.Config, now time.Time) (admission.Decision, error) {
	var d admission.Decision
	err := runInTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockIdentity(ctx, tx, id); err != nil {
			return err
		}

		var records []ledger.Record
		e, err := findEntry(ctx, tx, identity.Resolve(id))
		switch {
		case err == nil:
			records = e.Records
		case !errors.Is(err, ports.ErrEntryNotFound):
			return err
		}

		d = admission.Check(records, cfg, rec.Files, now)
		if !d.Allowed || rec.Files <= 0 {
			return nil
		}
		_, err = appendRecord(ctx, tx, id, rec, now, cfg.Window)
		return err
	})
	if err != nil {
		return admission.Decision{}, err
	}
	return d, nil
}

// Release removes a reserved record from whichever entry of scope holds it.
// The newest matching entry may have changed since the reservation, so the
// delete covers every entry the scope matches.
func (s *LedgerStore) Release(ctx context.Context, scope identity.Scope, recordID string) error {
	return runInTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := findEntryID(ctx, tx, scope); err != nil {
			return err
		}
		where, args, _ := scopeQuery(scope)
		args = append(args, recordID)
		if _, err := tx.Exec(ctx, `
			DELETE FROM ledger_records
			WHERE entry_id IN (SELECT id FROM ledger_entries WHERE `+where+`)
			AND id = $`+strconv.Itoa(len(args)), args...); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		return nil
	})
}

// Reset clears the records of the matching entry.
func (s *LedgerStore) Reset(ctx context.Context, scope identity.Scope) (int, error) {
	var n int64
	err := runInTx(ctx, s.pool, func(tx pgx.Tx) error {
		entryID, err := findEntryID(ctx, tx, scope)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM ledger_records WHERE entry_id = $1`, entryID)
		if err != nil {
			return fmt.Errorf("reset records: %w", err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return int(n), err
}

// List returns entries ordered by most recent update.
func (s *LedgerStore) List(ctx context.Context, limit, offset int) ([]ledger.Entry, error) {
	if offset < 0 {
		offset = 0
	}
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, device_id, ip, user_id, updated_at
		FROM ledger_entries
		ORDER BY updated_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	var (
		entries []ledger.Entry
		ids     []int64
	)
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
		if entries[i].Records, err = loadRecords(ctx, s.pool, id); err != nil {
			return nil, err
		}
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return entries, nil
}

// Ping checks the pool can reach the server.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// identityKeys returns the lock keys of an identity in a stable order.
func identityKeys(id identity.Identity) []string {
	if id.Authenticated() {
		return []string{"user:" + id.UserID}
	}
	var keys []string
	if id.DeviceID != "" {
		keys = append(keys, "device:"+id.DeviceID)
	}
	if id.IP != "" {
		keys = append(keys, "ip:"+id.IP)
	}
	sort.Strings(keys)
	return keys
}

func lockIdentity(ctx context.Context, tx pgx.Tx, id identity.Identity) error {
	for _, key := range identityKeys(id) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
	}
	return nil
}

func appendRecord(ctx context.Context, q DBTX, id identity.Identity, rec ledger.Record, now time.Time, window time.Duration) (int64, error) {
	entryID, err := findEntryID(ctx, q, identity.Resolve(id))
	switch {
	case errors.Is(err, ports.ErrEntryNotFound):
		e := ledger.NewEntry(id.DeviceID, id.IP, id.UserID)
		if err := e.Validate(); err != nil {
			return 0, err
		}
		err = q.QueryRow(ctx, `
			INSERT INTO ledger_entries (device_id, ip, user_id, updated_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, e.DeviceID, e.IP, e.UserID, now).Scan(&entryID)
		if err != nil {
			return 0, fmt.Errorf("insert entry: %w", err)
		}
	case err != nil:
		return 0, err
	default:
		if _, err := q.Exec(ctx, `
			UPDATE ledger_entries SET
				device_id = CASE WHEN device_id = '' AND user_id = '' THEN $1 ELSE device_id END,
				ip = CASE WHEN ip = '' AND user_id = '' THEN $2 ELSE ip END,
				updated_at = $3
			WHERE id = $4
		`, id.DeviceID, id.IP, now, entryID); err != nil {
			return 0, fmt.Errorf("touch entry: %w", err)
		}
	}

	if _, err := q.Exec(ctx,
		`DELETE FROM ledger_records WHERE entry_id = $1 AND time <= $2`, entryID, now.Add(-window)); err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}

	if _, err := q.Exec(ctx, `
		INSERT INTO ledger_records (entry_id, id, time, files)
		VALUES ($1, $2, $3, $4)
	`, entryID, rec.ID, rec.Time, rec.Files); err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return entryID, nil
}

func scopeQuery(scope identity.Scope) (string, []any, bool) {
	if scope.Empty() {
		return "", nil, false
	}
	switch scope.Kind {
	case identity.ScopeUser:
		return "user_id = $1", []any{scope.UserID}, true
	case identity.ScopeDevice:
		switch {
		case scope.DeviceID != "" && scope.IP != "":
			return "user_id = '' AND (device_id = $1 OR ip = $2)", []any{scope.DeviceID, scope.IP}, true
		case scope.DeviceID != "":
			return "user_id = '' AND device_id = $1", []any{scope.DeviceID}, true
		default:
			return "user_id = '' AND ip = $1", []any{scope.IP}, true
		}
	}
	return "", nil, false
}

func findEntryID(ctx context.Context, q DBTX, scope identity.Scope) (int64, error) {
	where, args, ok := scopeQuery(scope)
	if !ok {
		return 0, ports.ErrEntryNotFound
	}

	var id int64
	err := q.QueryRow(ctx, `
		SELECT id FROM ledger_entries
		WHERE `+where+`
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ports.ErrEntryNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find entry: %w", err)
	}
	return id, nil
}

func findEntry(ctx context.Context, q DBTX, scope identity.Scope) (ledger.Entry, error) {
	id, err := findEntryID(ctx, q, scope)
	if err != nil {
		return ledger.Entry{}, err
	}
	return loadEntry(ctx, q, id)
}

func loadEntry(ctx context.Context, q DBTX, id int64) (ledger.Entry, error) {
	row := q.QueryRow(ctx, `
		SELECT id, device_id, ip, user_id, updated_at
		FROM ledger_entries WHERE id = $1
	`, id)
	e, _, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, ports.ErrEntryNotFound
	}
	if err != nil {
		return ledger.Entry{}, err
	}

	if e.Records, err = loadRecords(ctx, q, id); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func loadRecords(ctx context.Context, q DBTX, entryID int64) ([]ledger.Record, error) {
	rows, err := q.Query(ctx, `
		SELECT id, time, files FROM ledger_records
		WHERE entry_id = $1
		ORDER BY seq
	`, entryID)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	var records []ledger.Record
	for rows.Next() {
		var r ledger.Record
		if err := rows.Scan(&r.ID, &r.Time, &r.Files); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Time = r.Time.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanEntry(row pgx.Row) (ledger.Entry, int64, error) {
	var (
		e  ledger.Entry
		id int64
	)
	if err := row.Scan(&id, &e.DeviceID, &e.IP, &e.UserID, &e.UpdatedAt); err != nil {
		return ledger.Entry{}, 0, err
	}
	e.ID = strconv.FormatInt(id, 10)
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, id, nil
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
