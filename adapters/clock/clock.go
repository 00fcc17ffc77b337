// Package clock provides the wall clock and a controllable one for tests.
package clock

import (
	"sync"
	"time"

	"github.com/xancrypt/xancrypt/ports"
)

// Real reads the system clock in UTC.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a manually driven clock. It is safe for concurrent use, since
// conversions read it from several goroutines.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFake returns a clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the current fake time, then moves it forward by the
// auto-advance step, if any.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.now
	f.now = f.now.Add(f.step)
	return t
}

// Set jumps to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// AutoAdvance makes every Now call move the clock forward by step, so code
// measuring elapsed time sees it pass. Zero freezes the clock again.
func (f *Fake) AutoAdvance(step time.Duration) {
	f.mu.Lock()
	f.step = step
	f.mu.Unlock()
}

// Ensure interface compliance.
var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
