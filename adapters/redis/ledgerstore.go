package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
	"github.com/xancrypt/xancrypt/ports"
)

// LedgerStore implements ports.LedgerStore on Redis.
type LedgerStore struct {
	client redis.UniversalClient
	opts   options
}

// NewLedgerStore creates a Redis ledger store.
func NewLedgerStore(client redis.UniversalClient, opts ...Option) *LedgerStore {
	return &LedgerStore{client: client, opts: newOptions(opts)}
}

type storedRecord struct {
	ID    string `json:"i"`
	Time  string `json:"t"`
	Files int    `json:"f"`
}

type scriptArgs struct {
	mode     string
	now      time.Time
	cutoff   time.Time
	maxFiles int
	rec      ledger.Record
	id       identity.Identity
}

type scriptReply struct {
	found   bool
	entry   ledger.Entry
	records []ledger.Record
	extra   int64
}

// Find returns the entry selected by scope.
func (s *LedgerStore) Find(ctx context.Context, scope identity.Scope) (ledger.Entry, error) {
	if scope.Empty() {
		return ledger.Entry{}, ports.ErrEntryNotFound
	}
	r, err := s.run(ctx, s.scopeKeys(scope), scriptArgs{mode: "find", id: scopeIdentity(scope)})
	if err != nil {
		return ledger.Entry{}, err
	}
	if !r.found {
		return ledger.Entry{}, ports.ErrEntryNotFound
	}
	return r.entry, nil
}

// Append adds rec to the identity's entry, creating it if absent.
func (s *LedgerStore) Append(ctx context.Context, id identity.Identity, rec ledger.Record, now time.Time, window time.Duration) (ledger.Entry, error) {
	if err := ledger.NewEntry(id.DeviceID, id.IP, id.UserID).Validate(); err != nil {
		return ledger.Entry{}, err
	}
	scope := identity.Resolve(id)
	_, err := s.run(ctx, s.scopeKeys(scope), scriptArgs{
		mode:   "append",
		now:    now,
		cutoff: now.Add(-window),
		rec:    rec,
		id:     id,
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	return s.Find(ctx, scope)
}

// Reserve checks the quota and appends rec in a single script call.
func (s *LedgerStore) Reserve(ctx context.Context, id identity.Identity, rec ledger.Record, cfg admission.Config, now time.Time) (admission.Decision, error) {
	scope := identity.Resolve(id)
	if scope.Empty() {
		d := admission.Check(nil, cfg, rec.Files, now)
		if d.Allowed && rec.Files > 0 {
			return admission.Decision{}, ledger.ErrNoIdentity
		}
		return d, nil
	}

	r, err := s.run(ctx, s.scopeKeys(scope), scriptArgs{
		mode:     "reserve",
		now:      now,
		cutoff:   now.Add(-cfg.Window),
		maxFiles: cfg.MaxFiles,
		rec:      rec,
		id:       id,
	})
	if err != nil {
		return admission.Decision{}, err
	}

	// The script applies the same rule; the decision is rebuilt from the
	// records it saw before appending.
	return admission.Check(r.records, cfg, rec.Files, now.Truncate(time.Microsecond)), nil
}

// Release removes a reserved record.
func (s *LedgerStore) Release(ctx context.Context, scope identity.Scope, recordID string) error {
	if scope.Empty() {
		return ports.ErrEntryNotFound
	}
	r, err := s.run(ctx, s.scopeKeys(scope), scriptArgs{
		mode: "release",
		rec:  ledger.Record{ID: recordID},
		id:   scopeIdentity(scope),
	})
	if err != nil {
		return err
	}
	if !r.found {
		return ports.ErrEntryNotFound
	}
	return nil
}

// Reset clears the records of the matching entry.
func (s *LedgerStore) Reset(ctx context.Context, scope identity.Scope) (int, error) {
	if scope.Empty() {
		return 0, ports.ErrEntryNotFound
	}
	r, err := s.run(ctx, s.scopeKeys(scope), scriptArgs{mode: "reset", id: scopeIdentity(scope)})
	if err != nil {
		return 0, err
	}
	if !r.found {
		return 0, ports.ErrEntryNotFound
	}
	return int(r.extra), nil
}

// List returns entries ordered by most recent update.
func (s *LedgerStore) List(ctx context.Context, limit, offset int) ([]ledger.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	ids, err := s.client.ZRevRange(ctx, s.opts.prefix+"entries", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	entries := make([]ledger.Entry, 0, len(ids))
	for _, id := range ids {
		vals, err := s.client.HMGet(ctx, s.opts.prefix+"entry:"+id,
			"device_id", "ip", "user_id", "updated_at", "records").Result()
		if err != nil {
			return nil, fmt.Errorf("load entry %s: %w", id, err)
		}
		e, err := decodeEntry(id, str(vals[0]), str(vals[1]), str(vals[2]), str(vals[3]), str(vals[4]))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		a, _ := strconv.ParseInt(entries[i].ID, 10, 64)
		b, _ := strconv.ParseInt(entries[j].ID, 10, 64)
		return a > b
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []ledger.Entry{}, nil
	}
	entries = entries[offset:]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Ping checks the server is reachable.
func (s *LedgerStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *LedgerStore) scopeKeys(scope identity.Scope) []string {
	switch scope.Kind {
	case identity.ScopeUser:
		return []string{s.opts.prefix + "user:" + scope.UserID}
	default:
		var keys []string
		if scope.DeviceID != "" {
			keys = append(keys, s.opts.prefix+"device:"+scope.DeviceID)
		}
		if scope.IP != "" {
			keys = append(keys, s.opts.prefix+"ip:"+scope.IP)
		}
		return keys
	}
}

func scopeIdentity(scope identity.Scope) identity.Identity {
	return identity.Identity{DeviceID: scope.DeviceID, IP: scope.IP, UserID: scope.UserID}
}

func (s *LedgerStore) run(ctx context.Context, keys []string, a scriptArgs) (scriptReply, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := ledgerScript.Run(ctx, s.client, keys,
		a.mode,
		s.opts.prefix,
		micros(a.now),
		micros(a.cutoff),
		a.maxFiles,
		a.rec.ID,
		micros(a.rec.Time),
		a.rec.Files,
		a.id.DeviceID,
		a.id.IP,
		a.id.UserID,
	).Slice()
	if err != nil {
		return scriptReply{}, fmt.Errorf("ledger script %s: %w", a.mode, err)
	}
	if len(res) != 8 {
		return scriptReply{}, fmt.Errorf("ledger script %s: unexpected reply length %d", a.mode, len(res))
	}

	var r scriptReply
	r.found = toInt(res[0]) == 1
	r.extra = toInt(res[7])
	if !r.found {
		return r, nil
	}
	r.entry, err = decodeEntry(str(res[1]), str(res[2]), str(res[3]), str(res[4]), str(res[5]), str(res[6]))
	if err != nil {
		return scriptReply{}, err
	}
	r.records = r.entry.Records
	return r, nil
}

func decodeEntry(id, deviceID, ip, userID, updated, records string) (ledger.Entry, error) {
	e := ledger.Entry{ID: id, DeviceID: deviceID, IP: ip, UserID: userID}
	if us, err := strconv.ParseInt(updated, 10, 64); err == nil {
		e.UpdatedAt = time.UnixMicro(us).UTC()
	}
	if records == "" {
		return e, nil
	}

	var stored []storedRecord
	if err := json.Unmarshal([]byte(records), &stored); err != nil {
		return ledger.Entry{}, fmt.Errorf("decode records of entry %s: %w", id, err)
	}
	for _, sr := range stored {
		us, err := strconv.ParseInt(sr.Time, 10, 64)
		if err != nil {
			return ledger.Entry{}, fmt.Errorf("decode record %s time: %w", sr.ID, err)
		}
		e.Records = append(e.Records, ledger.Record{ID: sr.ID, Time: time.UnixMicro(us).UTC(), Files: sr.Files})
	}
	return e, nil
}

// micros renders t as unix microseconds, the precision Lua numbers hold exactly.
func micros(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return ""
	}
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
