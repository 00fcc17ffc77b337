// Package admission decides whether a conversion batch may run.
// All functions are deterministic with no side effects.
package admission

import (
	"time"

	"github.com/xancrypt/xancrypt/domain/ledger"
)

// Defaults for anonymous and authenticated callers alike.
const (
	DefaultMaxFiles = 5
	DefaultWindow   = 7 * time.Hour
)

// Reasons for denial
const (
	ReasonLimitExceeded = "limit_exceeded"
)

// Config holds the quota limits (value type).
type Config struct {
	MaxFiles int           // files allowed per window
	Window   time.Duration // rolling window length
}

// DefaultConfig returns the built-in limits.
func DefaultConfig() Config {
	return Config{MaxFiles: DefaultMaxFiles, Window: DefaultWindow}
}

// Decision is the outcome of an admission check (value type).
type Decision struct {
	Allowed     bool
	Used        int        // files already counted in the window
	Requested   int        // files in this batch
	Remaining   int        // files left after this batch (0 when denied)
	NextAllowed *time.Time // set when denied and the window holds records
	Reason      string     // set when denied
}

// Check decides whether requested more files fit in the window.
// This is a PURE function - the ledger is not modified.
//
// Parameters:
//   - records: the identity's stored records (nil when there is no entry)
//   - cfg: quota limits
//   - requested: number of files in the incoming batch
//   - now: current timestamp
func Check(records []ledger.Record, cfg Config, requested int, now time.Time) Decision {
	used := ledger.ActiveUsage(records, now, cfg.Window)

	if requested <= 0 {
		return Decision{
			Allowed:   true,
			Used:      used,
			Remaining: clamp(cfg.MaxFiles - used),
		}
	}

	if used+requested > cfg.MaxFiles {
		d := Decision{
			Allowed:   false,
			Used:      used,
			Requested: requested,
			Reason:    ReasonLimitExceeded,
		}
		if next, ok := ledger.NextAvailableAt(records, now, cfg.Window); ok {
			d.NextAllowed = &next
		}
		return d
	}

	return Decision{
		Allowed:   true,
		Used:      used,
		Requested: requested,
		Remaining: cfg.MaxFiles - used - requested,
	}
}

// Remaining reports how many files the identity may still convert and when the
// oldest active record expires (nil when nothing is active).
// This is a PURE function.
func Remaining(records []ledger.Record, cfg Config, now time.Time) (int, *time.Time) {
	used := ledger.ActiveUsage(records, now, cfg.Window)
	next, ok := ledger.NextAvailableAt(records, now, cfg.Window)
	if !ok {
		return clamp(cfg.MaxFiles - used), nil
	}
	return clamp(cfg.MaxFiles - used), &next
}

// RetryAfter returns how long to wait before retrying a denied batch.
// This is a PURE function.
func RetryAfter(d Decision, now time.Time) time.Duration {
	if d.Allowed || d.NextAllowed == nil {
		return 0
	}
	delay := d.NextAllowed.Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
