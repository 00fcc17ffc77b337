// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/conversion"
	"github.com/xancrypt/xancrypt/domain/history"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
	"github.com/xancrypt/xancrypt/ports"
)

// DownloadPrefix is the path under which finished archives are served.
const DownloadPrefix = "/api/encrypt/download/"

// Errors returned by EncryptService.
var (
	ErrNoFiles            = errors.New("no files uploaded")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// EncryptService gates conversions behind the per-identity quota.
type EncryptService struct {
	ledger   ports.LedgerStore
	history  ports.HistoryStore
	pipeline *Pipeline
	observer ports.Observer
	clock    ports.Clock
	records  ports.IDGenerator
	jobs     ports.IDGenerator
	logger   zerolog.Logger

	// Dynamic configuration (hot-reloadable)
	limits atomic.Pointer[admission.Config]
}

// EncryptDeps contains dependencies for EncryptService.
type EncryptDeps struct {
	Ledger    ports.LedgerStore
	History   ports.HistoryStore // optional; nil disables history
	Pipeline  *Pipeline
	Observer  ports.Observer // optional
	Clock     ports.Clock
	RecordIDs ports.IDGenerator
	JobIDs    ports.IDGenerator
	Logger    zerolog.Logger
}

// NewEncryptService creates a new encrypt service.
func NewEncryptService(deps EncryptDeps, limits admission.Config) *EncryptService {
	if deps.Observer == nil {
		deps.Observer = ports.NopObserver{}
	}
	s := &EncryptService{
		ledger:   deps.Ledger,
		history:  deps.History,
		pipeline: deps.Pipeline,
		observer: deps.Observer,
		clock:    deps.Clock,
		records:  deps.RecordIDs,
		jobs:     deps.JobIDs,
		logger:   deps.Logger,
	}
	s.UpdateLimits(limits)
	return s
}

// UpdateLimits swaps the quota limits.
// This is thread-safe and can be called while handling requests.
func (s *EncryptService) UpdateLimits(cfg admission.Config) {
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = admission.DefaultMaxFiles
	}
	if cfg.Window <= 0 {
		cfg.Window = admission.DefaultWindow
	}
	s.limits.Store(&cfg)
}

// Limits returns the limits currently in force.
func (s *EncryptService) Limits() admission.Config {
	return *s.limits.Load()
}

// Outcome is the result of an Encrypt call.
type Outcome struct {
	Decision admission.Decision
	Result   conversion.Result // set when the conversion ran and succeeded
	Link     string
}

// Admitted reports whether the batch passed the admission gate.
func (o Outcome) Admitted() bool {
	return o.Decision.Allowed
}

// Encrypt admits and converts a batch of uploads for id.
//
// A denied batch returns a non-admitted Outcome and a nil error. When the
// pipeline fails after admission, the reserved quota is released and the
// *conversion.Error is returned.
func (s *EncryptService) Encrypt(ctx context.Context, id identity.Identity, uploads []conversion.Upload) (Outcome, error) {
	if len(uploads) == 0 {
		return Outcome{}, ErrNoFiles
	}

	limits := s.Limits()
	now := s.clock.Now()
	scope := identity.Resolve(id)
	rec := ledger.Record{ID: s.records.New(), Time: now, Files: len(uploads)}

	// 1. Admission: check and reserve atomically (I/O)
	d, err := s.ledger.Reserve(ctx, id, rec, limits, now)
	if err != nil {
		s.logger.Error().Err(err).Str("scope", scope.String()).Msg("ledger reserve failed")
		return Outcome{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	s.observer.AdmissionDecided(scope.Kind, d.Allowed)

	if !d.Allowed {
		ev := s.logger.Info().
			Str("scope", scope.String()).
			Int("used", d.Used).
			Int("requested", d.Requested)
		if d.NextAllowed != nil {
			ev = ev.Time("next_allowed", *d.NextAllowed)
		}
		ev.Msg("conversion denied")
		return Outcome{Decision: d}, nil
	}

	// 2. Convert
	job := conversion.Job{ID: s.jobs.New(), Uploads: uploads}
	css, js := job.Counts()
	s.observer.ConversionStarted(css, js, now)

	result, err := s.pipeline.Run(ctx, job)
	if err != nil {
		kind := conversion.KindOf(err)
		if kind == "" {
			kind = conversion.ErrTransform
		}
		s.observer.ConversionFailed(string(kind), s.clock.Now().Sub(now))
		s.logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("kind", string(kind)).
			Msg("conversion failed")

		if rerr := s.ledger.Release(ctx, scope, rec.ID); rerr != nil {
			s.logger.Error().Err(rerr).Str("record_id", rec.ID).Msg("failed to release reserved quota")
		}
		return Outcome{Decision: d}, err
	}
	s.observer.ConversionSucceeded(result.Elapsed)

	link := DownloadPrefix + result.ArchiveName
	s.logger.Info().
		Str("job_id", job.ID).
		Str("scope", scope.String()).
		Int("css", css).
		Int("js", js).
		Dur("elapsed", result.Elapsed).
		Msg("conversion complete")

	// 3. History for signed-in users (best effort)
	if id.Authenticated() && s.history != nil {
		ev := history.Event{
			Time:       now,
			CSSCount:   css,
			JSCount:    js,
			ElapsedSec: result.ElapsedSec(),
			Filename:   result.ArchiveName,
			Link:       link,
		}
		if _, err := s.history.Append(ctx, id.UserID, ev); err != nil {
			s.logger.Warn().Err(err).Str("user_id", id.UserID).Msg("failed to record history")
		}
	}

	return Outcome{Decision: d, Result: result, Link: link}, nil
}

// Remaining returns how many files id may still convert and when the oldest
// active record expires.
func (s *EncryptService) Remaining(ctx context.Context, id identity.Identity) (int, *time.Time, error) {
	limits := s.Limits()
	now := s.clock.Now()

	var records []ledger.Record
	e, err := s.ledger.Find(ctx, identity.Resolve(id))
	switch {
	case err == nil:
		records = e.Records
	case !errors.Is(err, ports.ErrEntryNotFound):
		return 0, nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	remaining, next := admission.Remaining(records, limits, now)
	return remaining, next, nil
}
