// Package storetest holds behavioural tests shared by every store backend.
// Each backend's package tests call these with a factory returning a fresh,
// empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/history"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
	"github.com/xancrypt/xancrypt/ports"
)

// Base is the reference time used by the suites. Whole seconds keep
// backends with coarse timestamp precision comparable.
var Base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var limits = admission.Config{MaxFiles: 5, Window: 7 * time.Hour}

// LedgerFactory returns an empty ledger store.
type LedgerFactory func(t *testing.T) ports.LedgerStore

// HistoryFactory returns an empty history store.
type HistoryFactory func(t *testing.T) ports.HistoryStore

// RunLedgerStore runs the ledger store suite.
func RunLedgerStore(t *testing.T, newStore LedgerFactory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ports.LedgerStore)
	}{
		{"FindMissing", testFindMissing},
		{"AppendCreatesEntry", testAppendCreatesEntry},
		{"AnonymousMatchesDeviceOrIP", testAnonymousMatchesDeviceOrIP},
		{"UserScopeIsolated", testUserScopeIsolated},
		{"AppendPrunesStale", testAppendPrunesStale},
		{"ReserveFillsThenRejects", testReserveFillsThenRejects},
		{"ReserveZeroFiles", testReserveZeroFiles},
		{"ReserveAfterWindowSlides", testReserveAfterWindowSlides},
		{"Release", testRelease},
		{"ReleaseAfterNewestMatchMoved", testReleaseAfterNewestMatchMoved},
		{"Reset", testReset},
		{"ListOrder", testListOrder},
		{"MostRecentlyUpdatedWins", testMostRecentlyUpdatedWins},
		{"ConcurrentReserve", testConcurrentReserve},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func anon(device, ip string) identity.Identity {
	return identity.Identity{DeviceID: device, IP: ip}
}

func rec(id string, at time.Time, files int) ledger.Record {
	return ledger.Record{ID: id, Time: at, Files: files}
}

func mustFind(t *testing.T, s ports.LedgerStore, scope identity.Scope) ledger.Entry {
	t.Helper()
	e, err := s.Find(context.Background(), scope)
	if err != nil {
		t.Fatalf("Find(%s) failed: %v", scope, err)
	}
	return e
}

func testFindMissing(t *testing.T, s ports.LedgerStore) {
	_, err := s.Find(context.Background(), identity.Resolve(anon("d1", "10.0.0.1")))
	if !errors.Is(err, ports.ErrEntryNotFound) {
		t.Errorf("Find() error = %v, want ErrEntryNotFound", err)
	}
}

func testAppendCreatesEntry(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	id := anon("d1", "10.0.0.1")

	e, err := s.Append(ctx, id, rec("r1", Base, 2), Base, limits.Window)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if e.ID == "" {
		t.Error("entry should have an id")
	}

	got := mustFind(t, s, identity.Resolve(id))
	if got.DeviceID != "d1" || got.IP != "10.0.0.1" || got.UserID != "" {
		t.Errorf("identity fields = %q/%q/%q", got.DeviceID, got.IP, got.UserID)
	}
	if len(got.Records) != 1 || got.Records[0].Files != 2 || !got.Records[0].Time.Equal(Base) {
		t.Errorf("records = %+v", got.Records)
	}

	if _, err := s.Append(ctx, id, rec("r2", Base.Add(time.Minute), 1), Base.Add(time.Minute), limits.Window); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}
	got = mustFind(t, s, identity.Resolve(id))
	if len(got.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(got.Records))
	}
	if got.Records[0].ID != "r1" || got.Records[1].ID != "r2" {
		t.Errorf("records out of order: %s, %s", got.Records[0].ID, got.Records[1].ID)
	}
}

func testAnonymousMatchesDeviceOrIP(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	if _, err := s.Append(ctx, anon("d1", "10.0.0.1"), rec("r1", Base, 1), Base, limits.Window); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	tests := []struct {
		name   string
		device string
		ip     string
		found  bool
	}{
		{"same device new ip", "d1", "10.0.0.9", true},
		{"new device same ip", "d9", "10.0.0.1", true},
		{"nothing shared", "d9", "10.0.0.9", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Find(ctx, identity.Resolve(anon(tt.device, tt.ip)))
			if tt.found && err != nil {
				t.Errorf("Find() error = %v, want entry", err)
			}
			if !tt.found && !errors.Is(err, ports.ErrEntryNotFound) {
				t.Errorf("Find() error = %v, want ErrEntryNotFound", err)
			}
		})
	}
}

func testUserScopeIsolated(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	device := anon("d1", "10.0.0.1")
	user := identity.Identity{DeviceID: "d1", IP: "10.0.0.1", UserID: "u1"}

	if _, err := s.Append(ctx, device, rec("r1", Base, 4), Base, limits.Window); err != nil {
		t.Fatalf("Append anonymous failed: %v", err)
	}
	if _, err := s.Append(ctx, user, rec("r2", Base.Add(time.Minute), 1), Base.Add(time.Minute), limits.Window); err != nil {
		t.Fatalf("Append user failed: %v", err)
	}

	u := mustFind(t, s, identity.Resolve(user))
	if u.UserID != "u1" || len(u.Records) != 1 || u.Records[0].Files != 1 {
		t.Errorf("user entry = %+v", u)
	}

	a := mustFind(t, s, identity.Resolve(device))
	if a.UserID != "" || len(a.Records) != 1 || a.Records[0].Files != 4 {
		t.Errorf("anonymous entry = %+v", a)
	}

	if _, err := s.Find(ctx, identity.Resolve(identity.Identity{DeviceID: "d1", UserID: "u2"})); !errors.Is(err, ports.ErrEntryNotFound) {
		t.Errorf("other user should have no entry, got err = %v", err)
	}
}

func testAppendPrunesStale(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	id := anon("d1", "")
	old := Base.Add(-8 * time.Hour)

	if _, err := s.Append(ctx, id, rec("old", old, 3), old, limits.Window); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := s.Append(ctx, id, rec("new", Base, 1), Base, limits.Window); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	e := mustFind(t, s, identity.Resolve(id))
	if len(e.Records) != 1 || e.Records[0].ID != "new" {
		t.Errorf("records = %+v, want only the fresh one", e.Records)
	}
}

func testReserveFillsThenRejects(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	id := anon("d1", "10.0.0.1")

	d, err := s.Reserve(ctx, id, rec("r1", Base, 2), limits, Base)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !d.Allowed || d.Remaining != 3 {
		t.Errorf("first decision = %+v", d)
	}

	at := Base.Add(time.Minute)
	d, err = s.Reserve(ctx, id, rec("r2", at, 3), limits, at)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !d.Allowed || d.Remaining != 0 {
		t.Errorf("second decision = %+v", d)
	}

	at = Base.Add(2 * time.Minute)
	d, err = s.Reserve(ctx, id, rec("r3", at, 1), limits, at)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if d.Allowed || d.Reason != admission.ReasonLimitExceeded {
		t.Errorf("third decision = %+v, want limit_exceeded", d)
	}
	if d.NextAllowed == nil || !d.NextAllowed.Equal(Base.Add(limits.Window)) {
		t.Errorf("NextAllowed = %v, want %v", d.NextAllowed, Base.Add(limits.Window))
	}

	e := mustFind(t, s, identity.Resolve(id))
	if got := ledger.ActiveUsage(e.Records, at, limits.Window); got != 5 {
		t.Errorf("active usage = %d, want 5", got)
	}
}

func testReserveZeroFiles(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	id := anon("d1", "")

	d, err := s.Reserve(ctx, id, rec("r0", Base, 0), limits, Base)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !d.Allowed || d.Remaining != limits.MaxFiles {
		t.Errorf("decision = %+v", d)
	}
	if _, err := s.Find(ctx, identity.Resolve(id)); !errors.Is(err, ports.ErrEntryNotFound) {
		t.Errorf("zero-file reserve must not create an entry, err = %v", err)
	}
}

func testReserveAfterWindowSlides(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	id := anon("d1", "")
	first := Base.Add(-(limits.Window - time.Minute))

	if _, err := s.Append(ctx, id, rec("r1", first, 4), first, limits.Window); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	d, err := s.Reserve(ctx, id, rec("r2", Base, 2), limits, Base)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if d.Allowed {
		t.Fatalf("decision = %+v, want denied", d)
	}
	if d.NextAllowed == nil || !d.NextAllowed.Equal(Base.Add(time.Minute)) {
		t.Errorf("NextAllowed = %v, want %v", d.NextAllowed, Base.Add(time.Minute))
	}

	later := Base.Add(2 * time.Minute)
	d, err = s.Reserve(ctx, id, rec("r3", later, 2), limits, later)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !d.Allowed || d.Remaining != 3 {
		t.Errorf("decision after slide = %+v", d)
	}

	e := mustFind(t, s, identity.Resolve(id))
	if len(e.Records) != 1 || e.Records[0].ID != "r3" {
		t.Errorf("records = %+v, want the expired one pruned", e.Records)
	}
}

func testRelease(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	id := anon("d1", "")
	scope := identity.Resolve(id)

	if _, err := s.Reserve(ctx, id, rec("keep", Base, 1), limits, Base); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if _, err := s.Reserve(ctx, id, rec("drop", Base, 3), limits, Base); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	if err := s.Release(ctx, scope, "drop"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := s.Release(ctx, scope, "unknown"); err != nil {
		t.Errorf("Release of unknown record should be a no-op, got %v", err)
	}

	e := mustFind(t, s, scope)
	if len(e.Records) != 1 || e.Records[0].ID != "keep" {
		t.Errorf("records = %+v", e.Records)
	}

	err := s.Release(ctx, identity.Resolve(anon("nobody", "")), "keep")
	if !errors.Is(err, ports.ErrEntryNotFound) {
		t.Errorf("Release on missing entry error = %v", err)
	}
}

// An anonymous caller can match two entries, one by device and one by IP.
// The reservation lands in the newest of them, and a later request may make
// the other one newest before the failed conversion is released.
func testReleaseAfterNewestMatchMoved(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	byDevice := anon("devA", "10.0.0.1")
	byIP := anon("devC", "10.0.0.2")
	caller := anon("devA", "10.0.0.2")

	steps := []struct {
		id  identity.Identity
		rec ledger.Record
	}{
		{byDevice, rec("a1", Base, 1)},
		{byIP, rec("c1", Base.Add(time.Second), 1)},
		{caller, rec("x1", Base.Add(2*time.Second), 3)},
		{byDevice, rec("a2", Base.Add(3*time.Second), 1)},
	}
	for _, st := range steps {
		d, err := s.Reserve(ctx, st.id, st.rec, limits, st.rec.Time)
		if err != nil {
			t.Fatalf("Reserve(%s) failed: %v", st.rec.ID, err)
		}
		if !d.Allowed {
			t.Fatalf("Reserve(%s) rejected: %+v", st.rec.ID, d)
		}
	}

	if err := s.Release(ctx, identity.Resolve(caller), "x1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	ipEntry := mustFind(t, s, identity.Resolve(byIP))
	if len(ipEntry.Records) != 1 || ipEntry.Records[0].ID != "c1" {
		t.Errorf("entry %s records = %+v, want only c1", ipEntry.ID, ipEntry.Records)
	}
	deviceEntry := mustFind(t, s, identity.Resolve(byDevice))
	if got := ledger.ActiveUsage(deviceEntry.Records, Base.Add(4*time.Second), limits.Window); got != 2 {
		t.Errorf("entry %s usage = %d, want 2", deviceEntry.ID, got)
	}
}

func testReset(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	id := identity.Identity{UserID: "u1"}
	scope := identity.Resolve(id)

	for i := 0; i < 2; i++ {
		at := Base.Add(time.Duration(i) * time.Minute)
		if _, err := s.Append(ctx, id, rec(fmt.Sprintf("r%d", i), at, 2), at, limits.Window); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	n, err := s.Reset(ctx, scope)
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Reset() removed %d, want 2", n)
	}

	e := mustFind(t, s, scope)
	if len(e.Records) != 0 {
		t.Errorf("records after reset = %d", len(e.Records))
	}

	if _, err := s.Reset(ctx, identity.Resolve(identity.Identity{UserID: "u2"})); !errors.Is(err, ports.ErrEntryNotFound) {
		t.Errorf("Reset on missing entry error = %v", err)
	}
}

func testListOrder(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	for i, device := range []string{"a", "b", "c"} {
		at := Base.Add(time.Duration(i) * time.Minute)
		if _, err := s.Append(ctx, anon(device, ""), rec("r-"+device, at, 1), at, limits.Window); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	all, err := s.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() = %d entries, want 3", len(all))
	}
	if all[0].DeviceID != "c" || all[1].DeviceID != "b" || all[2].DeviceID != "a" {
		t.Errorf("order = %s,%s,%s", all[0].DeviceID, all[1].DeviceID, all[2].DeviceID)
	}

	page, err := s.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 1 || page[0].DeviceID != "b" {
		t.Errorf("page = %+v", page)
	}

	empty, err := s.List(ctx, 10, 5)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("offset past end returned %d entries", len(empty))
	}
}

func testMostRecentlyUpdatedWins(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	if _, err := s.Append(ctx, anon("d1", "10.0.0.1"), rec("r1", Base, 1), Base, limits.Window); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	later := Base.Add(time.Minute)
	if _, err := s.Append(ctx, anon("d2", "10.0.0.2"), rec("r2", later, 2), later, limits.Window); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// d1 matches the first entry by device and the second by ip.
	scope := identity.Resolve(anon("d1", "10.0.0.2"))
	for i := 0; i < 3; i++ {
		e := mustFind(t, s, scope)
		if e.DeviceID != "d2" {
			t.Fatalf("Find() picked %s, want the most recently updated d2", e.DeviceID)
		}
	}
}

func testConcurrentReserve(t *testing.T, s ports.LedgerStore) {
	ctx := context.Background()
	id := anon("d1", "10.0.0.1")

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := s.Reserve(ctx, id, rec(fmt.Sprintf("c%d", i), Base, 1), limits, Base)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if d.Allowed {
				allowed++
			}
		}(i)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("Reserve errors: %v", errs)
	}
	if allowed != limits.MaxFiles {
		t.Errorf("allowed = %d, want %d", allowed, limits.MaxFiles)
	}

	e := mustFind(t, s, identity.Resolve(id))
	if got := ledger.ActiveUsage(e.Records, Base, limits.Window); got != limits.MaxFiles {
		t.Errorf("active usage = %d, want %d", got, limits.MaxFiles)
	}
}

// RunHistoryStore runs the history store suite.
func RunHistoryStore(t *testing.T, newStore HistoryFactory) {
	ctx := context.Background()

	t.Run("AppendListClear", func(t *testing.T) {
		s := newStore(t)
		first := history.Event{Time: Base, CSSCount: 1, JSCount: 1, ElapsedSec: 0.5, Filename: "a.zip", Link: "/api/encrypt/download/a.zip"}
		second := history.Event{Time: Base.Add(time.Hour), CSSCount: 2, Filename: "b.zip"}

		for _, e := range []history.Event{first, second} {
			added, err := s.Append(ctx, "u1", e)
			if err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			if !added {
				t.Errorf("Append(%s) reported duplicate", e.Filename)
			}
		}

		events, err := s.List(ctx, "u1")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(events) != 2 || events[0].Filename != "b.zip" || events[1].Filename != "a.zip" {
			t.Fatalf("List() = %+v, want newest first", events)
		}
		if events[1].Link != first.Link || events[1].ElapsedSec != 0.5 {
			t.Errorf("event fields lost: %+v", events[1])
		}

		if err := s.Clear(ctx, "u1"); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		events, _ = s.List(ctx, "u1")
		if len(events) != 0 {
			t.Errorf("List() after Clear = %d events", len(events))
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		s := newStore(t)
		e := history.Event{Time: Base, CSSCount: 1, JSCount: 2, Filename: "a.zip"}

		if _, err := s.Append(ctx, "u1", e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		dup := e
		dup.Filename = "other.zip"
		added, err := s.Append(ctx, "u1", dup)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if added {
			t.Error("same second and counts should be ignored")
		}

		added, _ = s.Append(ctx, "u2", e)
		if !added {
			t.Error("duplicates are per user")
		}
	})
}
