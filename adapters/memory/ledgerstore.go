package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
	"github.com/xancrypt/xancrypt/ports"
)

type ledgerRow struct {
	seq   int64
	entry ledger.Entry
}

// LedgerStore is an in-memory implementation of ports.LedgerStore.
// A single mutex serializes writes, which makes Reserve atomic.
type LedgerStore struct {
	mu   sync.RWMutex
	rows []*ledgerRow
	seq  int64
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

// Find returns the entry selected by scope.
func (s *LedgerStore) Find(ctx context.Context, scope identity.Scope) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.lookup(scope)
	if row == nil {
		return ledger.Entry{}, ports.ErrEntryNotFound
	}
	return copyEntry(row.entry), nil
}

// Append adds rec to the identity's entry, creating it if absent.
func (s *LedgerStore) Append(ctx context.Context, id identity.Identity, rec ledger.Record, now time.Time, window time.Duration) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.upsert(id)
	if err != nil {
		return ledger.Entry{}, err
	}
	row.entry.Records = ledger.Append(row.entry.Records, rec, now, window)
	row.entry.UpdatedAt = now
	return copyEntry(row.entry), nil
}

// Reserve checks the quota and appends rec under the same lock.
func (s *LedgerStore) Reserve(ctx context.Context, id identity.Identity, rec ledger.Record, cfg admission.Config, now time.Time) (admission.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []ledger.Record
	if row := s.lookup(identity.Resolve(id)); row != nil {
		records = row.entry.Records
	}

	d := admission.Check(records, cfg, rec.Files, now)
	if !d.Allowed || rec.Files <= 0 {
		return d, nil
	}

	row, err := s.upsert(id)
	if err != nil {
		return admission.Decision{}, err
	}
	row.entry.Records = ledger.Append(row.entry.Records, rec, now, cfg.Window)
	row.entry.UpdatedAt = now
	return d, nil
}

// Release removes a reserved record from whichever entry of scope holds it.
// Another request may have made a different entry the newest match since the
// reservation, so every matching entry is searched. Releasing an unknown
// record is a no-op.
func (s *LedgerStore) Release(ctx context.Context, scope identity.Scope, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope.Empty() {
		return ports.ErrEntryNotFound
	}
	matched := false
	for _, r := range s.rows {
		if !scope.Matches(r.entry.DeviceID, r.entry.IP, r.entry.UserID) {
			continue
		}
		matched = true
		r.entry.Records, _ = ledger.Without(r.entry.Records, recordID)
	}
	if !matched {
		return ports.ErrEntryNotFound
	}
	return nil
}

// Reset clears the records of the matching entry.
func (s *LedgerStore) Reset(ctx context.Context, scope identity.Scope) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.lookup(scope)
	if row == nil {
		return 0, ports.ErrEntryNotFound
	}
	n := len(row.entry.Records)
	row.entry.Records = nil
	return n, nil
}

// List returns entries ordered by most recent update.
func (s *LedgerStore) List(ctx context.Context, limit, offset int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*ledgerRow, len(s.rows))
	copy(rows, s.rows)
	sort.Slice(rows, func(i, j int) bool {
		return newer(rows[i], rows[j])
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []ledger.Entry{}, nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]ledger.Entry, len(rows))
	for i, r := range rows {
		out[i] = copyEntry(r.entry)
	}
	return out, nil
}

// Ping always succeeds.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of entries (for testing).
func (s *LedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// lookup must be called with the lock held.
func (s *LedgerStore) lookup(scope identity.Scope) *ledgerRow {
	if scope.Empty() {
		return nil
	}
	var best *ledgerRow
	for _, r := range s.rows {
		e := r.entry
		if !scope.Matches(e.DeviceID, e.IP, e.UserID) {
			continue
		}
		if best == nil || newer(r, best) {
			best = r
		}
	}
	return best
}

// upsert must be called with the write lock held.
func (s *LedgerStore) upsert(id identity.Identity) (*ledgerRow, error) {
	if row := s.lookup(identity.Resolve(id)); row != nil {
		if !id.Authenticated() {
			if row.entry.DeviceID == "" {
				row.entry.DeviceID = id.DeviceID
			}
			if row.entry.IP == "" {
				row.entry.IP = id.IP
			}
		}
		return row, nil
	}

	e := ledger.NewEntry(id.DeviceID, id.IP, id.UserID)
	if err := e.Validate(); err != nil {
		return nil, err
	}
	s.seq++
	e.ID = strconv.FormatInt(s.seq, 10)
	row := &ledgerRow{seq: s.seq, entry: e}
	s.rows = append(s.rows, row)
	return row, nil
}

func newer(a, b *ledgerRow) bool {
	if !a.entry.UpdatedAt.Equal(b.entry.UpdatedAt) {
		return a.entry.UpdatedAt.After(b.entry.UpdatedAt)
	}
	return a.seq > b.seq
}

func copyEntry(e ledger.Entry) ledger.Entry {
	e.Records = append([]ledger.Record(nil), e.Records...)
	return e
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
