// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/conversion"
	"github.com/xancrypt/xancrypt/domain/history"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
	// String generates a random string of n characters.
	String(n int) (string, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher hashes and verifies secrets.
type Hasher interface {
	Hash(plaintext string) ([]byte, error)
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// ErrEntryNotFound is returned when no ledger entry matches a scope.
var ErrEntryNotFound = errors.New("ledger entry not found")

// LedgerStore persists per-identity usage records.
//
// Every write prunes records that have left the window before persisting.
// Readers evaluate records through domain/ledger, which ignores stale ones,
// so an entry that has not been written for a while may still carry them.
type LedgerStore interface {
	// Find returns the entry selected by scope, or ErrEntryNotFound.
	// When several entries match, the most recently updated one wins.
	Find(ctx context.Context, scope identity.Scope) (ledger.Entry, error)

	// Append adds rec to the identity's entry, creating the entry if absent.
	// The record is durable when Append returns.
	Append(ctx context.Context, id identity.Identity, rec ledger.Record, now time.Time, window time.Duration) (ledger.Entry, error)

	// Reserve atomically checks the quota and appends rec when it fits.
	// A denied decision leaves the ledger untouched.
	Reserve(ctx context.Context, id identity.Identity, rec ledger.Record, cfg admission.Config, now time.Time) (admission.Decision, error)

	// Release removes a reserved record so failed work does not consume quota.
	Release(ctx context.Context, scope identity.Scope, recordID string) error

	// Reset clears all records of the matching entry and returns how many were removed.
	Reset(ctx context.Context, scope identity.Scope) (int, error)

	// List returns entries ordered by most recent update.
	List(ctx context.Context, limit, offset int) ([]ledger.Entry, error)

	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
}

// HistoryStore persists finished conversions of authenticated users.
type HistoryStore interface {
	// Append stores e unless it duplicates an existing event.
	// Returns false when the event was ignored as a duplicate.
	Append(ctx context.Context, userID string, e history.Event) (bool, error)

	// List returns all events of a user, newest first.
	List(ctx context.Context, userID string) ([]history.Event, error)

	// Clear removes every event of a user.
	Clear(ctx context.Context, userID string) error
}

// -----------------------------------------------------------------------------
// Conversion Ports
// -----------------------------------------------------------------------------

// Transformer converts every matching file of a directory into in-memory outputs.
type Transformer interface {
	Kind() conversion.Kind
	Transform(ctx context.Context, dir string) ([]conversion.Output, error)
}

// Archiver packs outputs into a single archive file.
type Archiver interface {
	Write(ctx context.Context, path string, outputs []conversion.Output) error
}

// ArchiveRegistry tracks which archives may be downloaded.
type ArchiveRegistry interface {
	Register(name, path string)
	Lookup(name string) (string, bool)
}

// -----------------------------------------------------------------------------
// Collaborator Ports
// -----------------------------------------------------------------------------

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	UserID(token string) (string, error)
}

// Observer receives conversion and admission events for metrics.
type Observer interface {
	ConversionStarted(css, js int, at time.Time)
	ConversionSucceeded(elapsed time.Duration)
	ConversionFailed(kind string, elapsed time.Duration)
	AdmissionDecided(scope identity.ScopeKind, allowed bool)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) ConversionStarted(int, int, time.Time) {}
func (NopObserver) ConversionSucceeded(time.Duration) {}
func (NopObserver) ConversionFailed(string, time.Duration) {}
func (NopObserver) AdmissionDecided(identity.ScopeKind, bool) {}
