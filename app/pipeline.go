package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xancrypt/xancrypt/domain/conversion"
	"github.com/xancrypt/xancrypt/ports"
)

// Pipeline stages uploads, runs the transformers concurrently and packs the
// results into one downloadable archive.
type Pipeline struct {
	transformers []ports.Transformer
	archiver     ports.Archiver
	registry     ports.ArchiveRegistry
	clock        ports.Clock
	logger       zerolog.Logger

	workDir   string
	outputDir string
}

// PipelineDeps contains dependencies for Pipeline.
type PipelineDeps struct {
	Transformers []ports.Transformer
	Archiver     ports.Archiver
	Registry     ports.ArchiveRegistry
	Clock        ports.Clock
	Logger       zerolog.Logger
}

// PipelineConfig contains configuration for Pipeline.
type PipelineConfig struct {
	WorkDir   string // job staging root; each job gets <WorkDir>/<jobID>
	OutputDir string // finished archives
}

// NewPipeline creates a conversion pipeline.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		transformers: deps.Transformers,
		archiver:     deps.Archiver,
		registry:     deps.Registry,
		clock:        deps.Clock,
		logger:       deps.Logger,
		workDir:      cfg.WorkDir,
		outputDir:    cfg.OutputDir,
	}
}

// Run converts one admitted job. Failures are *conversion.Error values
// tagged with the failing stage.
func (p *Pipeline) Run(ctx context.Context, job conversion.Job) (conversion.Result, error) {
	start := p.clock.Now()
	jobDir := filepath.Join(p.workDir, job.ID)
	defer func() {
		if err := os.RemoveAll(jobDir); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to remove staging directory")
		}
	}()

	// 1. Stage uploads
	if err := stage(jobDir, job.Uploads); err != nil {
		return conversion.Result{}, conversion.Wrap(conversion.ErrStaging, err)
	}

	// 2. Transform each kind concurrently
	results := make([][]conversion.Output, len(p.transformers))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range p.transformers {
		g.Go(func() error {
			out, err := t.Transform(gctx, filepath.Join(jobDir, string(t.Kind())))
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return conversion.Result{}, conversion.Wrap(conversion.ErrTransform, err)
	}

	var outputs []conversion.Output
	for _, out := range results {
		outputs = append(outputs, out...)
	}

	// 3. Archive
	name := job.ID + ".zip"
	path := filepath.Join(p.outputDir, name)
	if err := p.archiver.Write(ctx, path, outputs); err != nil {
		return conversion.Result{}, conversion.Wrap(conversion.ErrArchive, err)
	}

	// 4. Publish
	if p.registry != nil {
		p.registry.Register(name, path)
	}

	return conversion.Result{
		JobID:       job.ID,
		ArchiveName: name,
		ArchivePath: path,
		Outputs:     len(outputs),
		Elapsed:     p.clock.Now().Sub(start),
	}, nil
}

// stage copies uploads into <jobDir>/<kind>/. Names are reduced to their
// base name, given the extension of their kind and made unique.
func stage(jobDir string, uploads []conversion.Upload) error {
	taken := make(map[string]bool)
	for i, u := range uploads {
		dir := filepath.Join(jobDir, string(u.Kind))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}

		name := stagedName(u, i, taken)
		if err := copyUpload(u, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
	}
	return nil
}

func stagedName(u conversion.Upload, index int, taken map[string]bool) string {
	name := conversion.SafeName(u.Name)
	if name == "" {
		name = fmt.Sprintf("file%d%s", index+1, u.Kind.Ext())
	}
	if !strings.EqualFold(filepath.Ext(name), u.Kind.Ext()) {
		name += u.Kind.Ext()
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	candidate := name
	for n := 1; taken[string(u.Kind)+"/"+strings.ToLower(candidate)]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", base, n, u.Kind.Ext())
	}
	taken[string(u.Kind)+"/"+strings.ToLower(candidate)] = true
	return candidate
}

func copyUpload(u conversion.Upload, dst string) error {
	src, err := u.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
