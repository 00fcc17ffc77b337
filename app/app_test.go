package app_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xancrypt/xancrypt/adapters/archive"
	"github.com/xancrypt/xancrypt/adapters/clock"
	"github.com/xancrypt/xancrypt/adapters/idgen"
	"github.com/xancrypt/xancrypt/adapters/memory"
	"github.com/xancrypt/xancrypt/adapters/transform"
	"github.com/xancrypt/xancrypt/app"
	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/conversion"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
	"github.com/xancrypt/xancrypt/ports"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingObserver implements ports.Observer for testing.
type recordingObserver struct {
	mu        sync.Mutex
	started   int
	succeeded int
	failed    []string
	allowed   int
	denied    int
}

func (o *recordingObserver) ConversionStarted(css, js int, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) ConversionSucceeded(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.succeeded++
}

func (o *recordingObserver) ConversionFailed(kind string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, kind)
}

func (o *recordingObserver) AdmissionDecided(_ identity.ScopeKind, allowed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if allowed {
		o.allowed++
	} else {
		o.denied++
	}
}

// failingTransformer always fails.
type failingTransformer struct{ kind conversion.Kind }

func (f failingTransformer) Kind() conversion.Kind { return f.kind }

func (f failingTransformer) Transform(context.Context, string) ([]conversion.Output, error) {
	return nil, errors.New("parse error")
}

// brokenLedger fails every call.
type brokenLedger struct{ *memory.LedgerStore }

func (brokenLedger) Reserve(context.Context, identity.Identity, ledger.Record, admission.Config, time.Time) (admission.Decision, error) {
	return admission.Decision{}, errors.New("connection refused")
}

func (brokenLedger) Find(context.Context, identity.Scope) (ledger.Entry, error) {
	return ledger.Entry{}, errors.New("connection refused")
}

type harness struct {
	svc       *app.EncryptService
	ledger    *memory.LedgerStore
	history   *memory.HistoryStore
	clock     *clock.Fake
	registry  *archive.Registry
	observer  *recordingObserver
	workDir   string
	outputDir string
}

type harnessOption func(*app.PipelineDeps, *app.EncryptDeps)

func withTransformers(ts ...ports.Transformer) harnessOption {
	return func(p *app.PipelineDeps, _ *app.EncryptDeps) { p.Transformers = ts }
}

func withLedger(l ports.LedgerStore) harnessOption {
	return func(_ *app.PipelineDeps, e *app.EncryptDeps) { e.Ledger = l }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		ledger:    memory.NewLedgerStore(),
		history:   memory.NewHistoryStore(),
		clock:     clock.NewFake(t0),
		registry:  archive.NewRegistry(16, time.Hour),
		observer:  &recordingObserver{},
		workDir:   filepath.Join(dir, "work"),
		outputDir: filepath.Join(dir, "out"),
	}

	pdeps := app.PipelineDeps{
		Transformers: []ports.Transformer{transform.NewCSS(), transform.NewJS()},
		Archiver:     archive.NewZip(h.clock),
		Registry:     h.registry,
		Clock:        h.clock,
		Logger:       zerolog.Nop(),
	}
	edeps := app.EncryptDeps{
		Ledger:    h.ledger,
		History:   h.history,
		Observer:  h.observer,
		Clock:     h.clock,
		RecordIDs: idgen.NewSequential("rec-"),
		JobIDs:    idgen.NewSequential("job-"),
		Logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&pdeps, &edeps)
	}

	edeps.Pipeline = app.NewPipeline(pdeps, app.PipelineConfig{WorkDir: h.workDir, OutputDir: h.outputDir})
	h.svc = app.NewEncryptService(edeps, admission.DefaultConfig())
	return h
}

func upload(name string, kind conversion.Kind, body string) conversion.Upload {
	return conversion.Upload{
		Name: name,
		Kind: kind,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func cssFiles(n int) []conversion.Upload {
	out := make([]conversion.Upload, n)
	for i := range out {
		out[i] = upload("style.css", conversion.KindCSS, "a { color: red; }")
	}
	return out
}

func (h *harness) used(t *testing.T, id identity.Identity) int {
	t.Helper()
	remaining, _, err := h.svc.Remaining(context.Background(), id)
	if err != nil {
		t.Fatalf("Remaining failed: %v", err)
	}
	return admission.DefaultMaxFiles - remaining
}
