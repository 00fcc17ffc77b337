// Package ledger provides pure functions over per-identity usage history.
// All functions are deterministic with no side effects.
package ledger

import (
	"errors"
	"time"
)

// Record is one committed conversion event (value type, immutable once created).
type Record struct {
	ID    string
	Time  time.Time
	Files int
}

// Entry is the accumulated usage history of one identity scope.
type Entry struct {
	ID        string
	DeviceID  string
	IP        string
	UserID    string
	Records   []Record
	UpdatedAt time.Time
}

// ErrNoIdentity is returned when an entry carries none of the identity fields.
var ErrNoIdentity = errors.New("ledger entry requires a device id, ip or user id")

// Validate checks the entry invariant.
func (e Entry) Validate() error {
	if e.DeviceID == "" && e.IP == "" && e.UserID == "" {
		return ErrNoIdentity
	}
	return nil
}

// NewEntry returns an empty entry for the given identity fields.
// An entry owned by a user keeps only the user id, so anonymous lookups by
// device or ip never select it.
func NewEntry(deviceID, ip, userID string) Entry {
	if userID != "" {
		return Entry{UserID: userID}
	}
	return Entry{DeviceID: deviceID, IP: ip}
}

// IsActive reports whether a record still counts toward the quota.
// A record is active while its time is strictly after now - window.
func IsActive(r Record, now time.Time, window time.Duration) bool {
	return r.Time.After(now.Add(-window))
}

// Active returns the records that fall inside the rolling window, preserving order.
// This is a PURE function.
func Active(records []Record, now time.Time, window time.Duration) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if IsActive(r, now, window) {
			out = append(out, r)
		}
	}
	return out
}

// ActiveUsage sums the files of all active records.
// This is a PURE function.
func ActiveUsage(records []Record, now time.Time, window time.Duration) int {
	used := 0
	for _, r := range records {
		if IsActive(r, now, window) {
			used += r.Files
		}
	}
	return used
}

// NextAvailableAt returns the time at which the oldest active record leaves the window.
// The boolean is false when there are no active records.
// This is a PURE function.
func NextAvailableAt(records []Record, now time.Time, window time.Duration) (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, r := range records {
		if !IsActive(r, now, window) {
			continue
		}
		if !found || r.Time.Before(oldest) {
			oldest = r.Time
			found = true
		}
	}
	if !found {
		return time.Time{}, false
	}
	return oldest.Add(window), true
}

// Append returns the pruned records with rec added at the end.
// Stale records are dropped because the caller is about to persist the list.
// This is a PURE function.
func Append(records []Record, rec Record, now time.Time, window time.Duration) []Record {
	return append(Active(records, now, window), rec)
}

// Without returns records minus the one with the given id.
// The boolean reports whether a record was removed.
func Without(records []Record, id string) ([]Record, bool) {
	out := make([]Record, 0, len(records))
	removed := false
	for _, r := range records {
		if r.ID == id && !removed {
			removed = true
			continue
		}
		out = append(out, r)
	}
	return out, removed
}
