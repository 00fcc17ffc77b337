package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/history"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
	"github.com/xancrypt/xancrypt/ports"
)

// UsageReport describes one ledger entry as seen right now.
type UsageReport struct {
	Entry     ledger.Entry
	Used      int
	Remaining int
	NextReset *time.Time
}

// UsageService provides the administrative view of the usage ledger.
type UsageService struct {
	ledger ports.LedgerStore
	clock  ports.Clock
	limits func() admission.Config
	logger zerolog.Logger
}

// NewUsageService creates a usage service. limits supplies the limits in
// force, typically EncryptService.Limits.
func NewUsageService(store ports.LedgerStore, clock ports.Clock, limits func() admission.Config, logger zerolog.Logger) *UsageService {
	return &UsageService{ledger: store, clock: clock, limits: limits, logger: logger}
}

func (s *UsageService) report(e ledger.Entry) UsageReport {
	cfg := s.limits()
	now := s.clock.Now()
	remaining, next := admission.Remaining(e.Records, cfg, now)
	return UsageReport{
		Entry:     e,
		Used:      ledger.ActiveUsage(e.Records, now, cfg.Window),
		Remaining: remaining,
		NextReset: next,
	}
}

// Lookup returns the report of the entry selected by scope.
func (s *UsageService) Lookup(ctx context.Context, scope identity.Scope) (UsageReport, error) {
	e, err := s.ledger.Find(ctx, scope)
	if err != nil {
		return UsageReport{}, storageErr(err)
	}
	return s.report(e), nil
}

// Reset clears the records of the entry selected by scope.
func (s *UsageService) Reset(ctx context.Context, scope identity.Scope) (int, error) {
	n, err := s.ledger.Reset(ctx, scope)
	if err != nil {
		return 0, storageErr(err)
	}
	s.logger.Info().Str("scope", scope.String()).Int("records", n).Msg("usage reset")
	return n, nil
}

// List returns reports for a page of entries, most recently updated first.
func (s *UsageService) List(ctx context.Context, limit, offset int) ([]UsageReport, error) {
	entries, err := s.ledger.List(ctx, limit, offset)
	if err != nil {
		return nil, storageErr(err)
	}
	reports := make([]UsageReport, len(entries))
	for i, e := range entries {
		reports[i] = s.report(e)
	}
	return reports, nil
}

// Ping reports whether the ledger backend is reachable.
func (s *UsageService) Ping(ctx context.Context) error {
	return s.ledger.Ping(ctx)
}

// storageErr keeps ErrEntryNotFound and marks everything else as a storage failure.
func storageErr(err error) error {
	if errors.Is(err, ports.ErrEntryNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// HistoryService manages the conversion history of signed-in users.
type HistoryService struct {
	store ports.HistoryStore
	clock ports.Clock
}

// NewHistoryService creates a history service.
func NewHistoryService(store ports.HistoryStore, clock ports.Clock) *HistoryService {
	return &HistoryService{store: store, clock: clock}
}

// List returns the user's events, newest first.
func (s *HistoryService) List(ctx context.Context, userID string) ([]history.Event, error) {
	events, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, storageErr(err)
	}
	return events, nil
}

// Add records a client-submitted event. Events without a time are stamped
// now. It returns false when the event duplicates an existing one.
func (s *HistoryService) Add(ctx context.Context, userID string, e history.Event) (bool, error) {
	if e.Time.IsZero() {
		e.Time = s.clock.Now()
	}
	added, err := s.store.Append(ctx, userID, e)
	if err != nil {
		return false, storageErr(err)
	}
	return added, nil
}

// Clear removes every event of the user.
func (s *HistoryService) Clear(ctx context.Context, userID string) error {
	if err := s.store.Clear(ctx, userID); err != nil {
		return storageErr(err)
	}
	return nil
}
