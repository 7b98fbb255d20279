// Package pipeline turns one PDF into enriched markdown.
//
// Processing runs in two phases. Extraction is local and sequential: a
// pdf.Worker owns the document, each page is classified and the bitmaps to
// describe are cut out. Description is remote and concurrent: every unit is
// sent to the vision provider under a per-job limiter. Assembly then builds
// the markdown, strips running headers and footers, and flags trash pages.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spherical/pdf-enricher/internal/classify"
	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/observability"
	"github.com/spherical/pdf-enricher/internal/pdf"
	"github.com/spherical/pdf-enricher/internal/trash"
	"github.com/spherical/pdf-enricher/internal/vision"
)

// ProviderFactory builds the vision provider for a job.
type ProviderFactory func(name, model string) (vision.Provider, error)

// Options are the processing knobs shared by every job.
type Options struct {
	DPI               float64
	MinImageSize      int
	Threshold         float64
	MaxConcurrency    int
	RequestsPerSecond float64
	DetectTrash       bool
	MinRepeatPages    int
	OutputDir         string
}

// DefaultOptions returns the standard processing settings.
func DefaultOptions() Options {
	return Options{
		DPI:            150,
		MinImageSize:   100,
		Threshold:      classify.DefaultThreshold,
		MaxConcurrency: vision.DefaultMaxConcurrency,
		DetectTrash:    true,
		MinRepeatPages: trash.DefaultMinRepeatPages,
		OutputDir:      "./output",
	}
}

// Request is one document to process.
type Request struct {
	PDFPath string
	// Filename is the user-facing name; the output stem derives from it.
	// Defaults to the base name of PDFPath.
	Filename string
	Config   domain.JobConfig
	// OutputDir overrides Options.OutputDir.
	OutputDir string
}

// Service runs the processing pipeline.
type Service struct {
	opts      Options
	open      pdf.Opener
	providers ProviderFactory
	validator *pdf.Validator
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithOpener replaces the PDF backend.
func WithOpener(open pdf.Opener) Option {
	return func(s *Service) { s.open = open }
}

// WithProviderFactory replaces how providers are built.
func WithProviderFactory(f ProviderFactory) Option {
	return func(s *Service) { s.providers = f }
}

func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a pipeline service
func NewService(opts Options, options ...Option) *Service {
	def := DefaultOptions()
	if opts.DPI <= 0 {
		opts.DPI = def.DPI
	}
	if opts.MinImageSize <= 0 {
		opts.MinImageSize = def.MinImageSize
	}
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = def.MaxConcurrency
	}
	if opts.MinRepeatPages <= 0 {
		opts.MinRepeatPages = def.MinRepeatPages
	}
	if opts.OutputDir == "" {
		opts.OutputDir = def.OutputDir
	}

	s := &Service{
		opts:      opts,
		open:      pdf.OpenFitz,
		validator: pdf.NewValidator(),
		logger:    observability.Nop(),
	}
	for _, o := range options {
		o(s)
	}
	if s.providers == nil {
		s.providers = func(name, model string) (vision.Provider, error) {
			return vision.New(name, model, vision.WithLogger(s.logger), vision.WithMetrics(s.metrics))
		}
	}
	return s
}

// Options returns the effective settings.
func (s *Service) Options() Options {
	return s.opts
}

// Process runs the whole pipeline for req and writes the outputs.
// Progress checkpoints go to sink, which must not block.
func (s *Service) Process(ctx context.Context, req Request, sink domain.ProgressSink) (*domain.JobResult, error) {
	if sink == nil {
		sink = domain.NopProgress
	}
	startTime := time.Now()

	cfg := req.Config
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := s.validator.ValidatePDFPath(req.PDFPath); err != nil {
		return nil, err
	}

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.PDFPath)
	}
	outDir := req.OutputDir
	if outDir == "" {
		outDir = s.opts.OutputDir
	}
	stem := domain.Stem(filename)

	r := &run{
		opts:      s.opts,
		cfg:       cfg,
		stem:      stem,
		outDir:    outDir,
		imagesDir: filepath.Join(outDir, "images", stem),
		prompts:   vision.PromptsFor(cfg.Language),
		progress:  &tracker{sink: sink},
		logger:    s.logger.WithContext(ctx).WithOperation("process"),
		metrics:   s.metrics,
	}

	if !cfg.TextOnly {
		p, err := s.providers(cfg.Provider, cfg.Model)
		if err != nil {
			return nil, err
		}
		r.provider = vision.Limited(p, vision.NewLimiter(s.opts.MaxConcurrency, s.opts.RequestsPerSecond))
	}

	r.logger.Info().
		Str("file", filename).
		Str("provider", cfg.Provider).
		Bool("text_only", cfg.TextOnly).
		Str("quality", cfg.Quality).
		Msg("Starting document processing")

	worker, err := pdf.StartWorker(req.PDFPath, s.open)
	if err != nil {
		return nil, err
	}
	pages, err := r.extract(ctx, worker)
	if cerr := worker.Close(); cerr != nil {
		r.logger.Warn().Err(cerr).Msg("Failed to close document")
	}
	if err != nil {
		return nil, err
	}

	if err := r.describe(ctx, pages); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, domain.CancellationError("job cancelled", err)
	}
	r.progress.update(func(p *domain.JobProgress) {
		p.Phase = domain.PhaseAssembling
		p.Message = "Assembling markdown"
	})
	result := r.assemble(pages)

	if err := r.writeOutputs(result); err != nil {
		return nil, err
	}

	r.progress.update(func(p *domain.JobProgress) {
		p.Phase = domain.PhaseComplete
		p.Message = fmt.Sprintf("Processed %d pages, %d images", len(pages), result.ImageCount)
	})
	r.logger.Info().
		Int("pages", len(pages)).
		Int("images", result.ImageCount).
		Int("warnings", len(result.Warnings)).
		Dur("duration", time.Since(startTime)).
		Msg("Document processing complete")

	return result, nil
}

// run is the state of one Process call.
type run struct {
	opts      Options
	cfg       domain.JobConfig
	stem      string
	outDir    string
	imagesDir string
	prompts   vision.Prompts
	provider  vision.Provider
	progress  *tracker
	logger    *observability.Logger
	metrics   *observability.Metrics

	mu       sync.Mutex
	warnings []string
}

func (r *run) warn(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
	r.logger.Warn().Msg(msg)
}

// tracker serializes progress updates so snapshots reach the sink in order.
type tracker struct {
	mu   sync.Mutex
	p    domain.JobProgress
	sink domain.ProgressSink
}

func (t *tracker) update(fn func(p *domain.JobProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.p)
	t.sink.Report(t.p)
}
