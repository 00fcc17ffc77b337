package ledger_test

import (
	"testing"
	"time"

	"github.com/xancrypt/xancrypt/domain/ledger"
)

var (
	now    = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	window = 7 * time.Hour
)

func TestActiveUsage(t *testing.T) {
	tests := []struct {
		name    string
		records []ledger.Record
		want    int
	}{
		{"no records", nil, 0},
		{
			name: "all active",
			records: []ledger.Record{
				{Time: now.Add(-time.Hour), Files: 2},
				{Time: now.Add(-2 * time.Hour), Files: 1},
			},
			want: 3,
		},
		{
			name: "stale records ignored",
			records: []ledger.Record{
				{Time: now.Add(-8 * time.Hour), Files: 4},
				{Time: now.Add(-time.Minute), Files: 1},
			},
			want: 1,
		},
		{
			name: "record exactly at window edge is stale",
			records: []ledger.Record{
				{Time: now.Add(-window), Files: 5},
			},
			want: 0,
		},
		{
			name: "record just inside window counts",
			records: []ledger.Record{
				{Time: now.Add(-window + time.Millisecond), Files: 2},
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ledger.ActiveUsage(tt.records, now, window); got != tt.want {
				t.Errorf("ActiveUsage() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNextAvailableAt(t *testing.T) {
	t.Run("no active records", func(t *testing.T) {
		records := []ledger.Record{{Time: now.Add(-10 * time.Hour), Files: 1}}
		if _, ok := ledger.NextAvailableAt(records, now, window); ok {
			t.Error("expected no next available time")
		}
	})

	t.Run("earliest active record plus window", func(t *testing.T) {
		earliest := now.Add(-3 * time.Hour)
		records := []ledger.Record{
			{Time: now.Add(-time.Hour), Files: 1},
			{Time: earliest, Files: 1},
			{Time: now.Add(-9 * time.Hour), Files: 1}, // stale, ignored
			{Time: now.Add(-2 * time.Hour), Files: 1},
		}
		got, ok := ledger.NextAvailableAt(records, now, window)
		if !ok {
			t.Fatal("expected next available time")
		}
		if want := earliest.Add(window); !got.Equal(want) {
			t.Errorf("NextAvailableAt() = %v, want %v", got, want)
		}
	})
}

func TestAppend_PrunesStale(t *testing.T) {
	records := []ledger.Record{
		{ID: "old", Time: now.Add(-8 * time.Hour), Files: 3},
		{ID: "keep", Time: now.Add(-time.Hour), Files: 1},
	}
	got := ledger.Append(records, ledger.Record{ID: "new", Time: now, Files: 2}, now, window)

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "keep" || got[1].ID != "new" {
		t.Errorf("records = %+v, want keep,new", got)
	}
	if used := ledger.ActiveUsage(got, now, window); used != 3 {
		t.Errorf("ActiveUsage after append = %d, want 3", used)
	}
}

func TestAppend_CountsOnce(t *testing.T) {
	var records []ledger.Record
	records = ledger.Append(records, ledger.Record{ID: "r1", Time: now, Files: 2}, now, window)

	if used := ledger.ActiveUsage(records, now, window); used != 2 {
		t.Errorf("ActiveUsage = %d, want 2", used)
	}
}

func TestWithout(t *testing.T) {
	records := []ledger.Record{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	got, removed := ledger.Without(records, "b")
	if !removed {
		t.Fatal("expected record to be removed")
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("Without() = %+v", got)
	}

	if _, removed := ledger.Without(records, "zzz"); removed {
		t.Error("unexpected removal of missing record")
	}
}

func TestEntry_Validate(t *testing.T) {
	if err := (ledger.Entry{}).Validate(); err != ledger.ErrNoIdentity {
		t.Errorf("Validate() = %v, want ErrNoIdentity", err)
	}
	if err := (ledger.Entry{IP: "10.0.0.1"}).Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestNewEntry(t *testing.T) {
	e := ledger.NewEntry("d1", "10.0.0.1", "u1")
	if e.UserID != "u1" || e.DeviceID != "" || e.IP != "" {
		t.Errorf("user entry = %+v, want only the user id", e)
	}

	e = ledger.NewEntry("d1", "10.0.0.1", "")
	if e.DeviceID != "d1" || e.IP != "10.0.0.1" {
		t.Errorf("anonymous entry = %+v", e)
	}
	if err := ledger.NewEntry("", "", "").Validate(); err == nil {
		t.Error("entry without identity should not validate")
	}
}
