// Package history models the per-user log of finished conversions.
package history

import (
	"sort"
	"time"
)

// Event is one finished conversion shown on the user's dashboard.
type Event struct {
	Time       time.Time `json:"time"`
	CSSCount   int       `json:"cssCount"`
	JSCount    int       `json:"jsCount"`
	ElapsedSec float64   `json:"elapsedSec"`
	Filename   string    `json:"filename"`
	Link       string    `json:"link"`
}

// IsDuplicate reports whether e repeats an event already in events.
// Two events are the same when they fall in the same second with the same file counts.
// This is a PURE function.
func IsDuplicate(events []Event, e Event) bool {
	sec := e.Time.Unix()
	for _, existing := range events {
		if existing.Time.Unix() == sec &&
			existing.CSSCount == e.CSSCount &&
			existing.JSCount == e.JSCount {
			return true
		}
	}
	return false
}

// NewestFirst returns a copy of events sorted by descending time.
func NewestFirst(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.After(out[j].Time)
	})
	return out
}
