package clock_test

import (
	"testing"
	"time"

	"github.com/xancrypt/xancrypt/adapters/clock"
)

func TestReal_NowIsUTC(t *testing.T) {
	c := clock.Real{}

	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", got, before, after)
	}
	if got.Location() != time.UTC {
		t.Errorf("Now() location = %v, want UTC", got.Location())
	}
}

func TestFake_SetAndAdvance(t *testing.T) {
	start := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(7 * time.Hour)
	if want := start.Add(7 * time.Hour); !c.Now().Equal(want) {
		t.Errorf("after Advance Now() = %v, want %v", c.Now(), want)
	}

	later := start.AddDate(0, 0, 1)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("after Set Now() = %v, want %v", c.Now(), later)
	}
}

func TestFake_AutoAdvance(t *testing.T) {
	start := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)
	c.AutoAdvance(time.Second)

	first := c.Now()
	second := c.Now()
	if !first.Equal(start) {
		t.Errorf("first Now() = %v, want %v", first, start)
	}
	if got := second.Sub(first); got != time.Second {
		t.Errorf("step = %v, want 1s", got)
	}

	c.AutoAdvance(0)
	if a, b := c.Now(), c.Now(); !a.Equal(b) {
		t.Errorf("frozen clock moved: %v -> %v", a, b)
	}
}
