// Package enricher is the library entry point for converting PDFs into
// vision-enriched markdown without running the HTTP service.
package enricher

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/spherical/pdf-enricher/internal/app"
	"github.com/spherical/pdf-enricher/internal/config"
	"github.com/spherical/pdf-enricher/internal/deploy"
	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/observability"
	"github.com/spherical/pdf-enricher/internal/pipeline"
)

// Re-exported result and configuration types.
type (
	JobConfig           = domain.JobConfig
	JobProgress         = domain.JobProgress
	JobResult           = domain.JobResult
	ImageMetadataRecord = domain.ImageMetadataRecord
	TrashDetection      = domain.TrashDetection
	DeployRequest       = deploy.Request
	DeployResponse      = deploy.Response
	ImageTarget         = deploy.ImageTarget
	MarkdownTarget      = deploy.MarkdownTarget
)

// EventType identifies a processing event.
type EventType string

// Event types emitted by Process.
const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one step of a running conversion. Exactly one of Progress,
// Result or Err is set, matching Type.
type Event struct {
	Type     EventType
	Progress *JobProgress
	Result   *JobResult
	Err      error
}

// Client converts PDFs with a fixed configuration.
type Client struct {
	cfg      *config.Config
	pipeline *pipeline.Service
	deployer *deploy.Service
	defaults JobConfig
}

// Config holds client options. Zero fields fall back to the YAML file at
// ConfigPath, then to environment overrides and built-in defaults.
type Config struct {
	ConfigPath string
	Provider   string
	Model      string
	OutputDir  string
	// LogLevel enables logging to stderr; empty keeps the client silent.
	LogLevel string

	pipelineOptions []pipeline.Option
}

// NewClient creates a client from .env, PDF_ENRICHER_CONFIG and the
// environment.
func NewClient() (*Client, error) {
	// .env is optional
	_ = godotenv.Load()

	return NewClientWithConfig(&Config{ConfigPath: os.Getenv("PDF_ENRICHER_CONFIG")})
}

// NewClientWithConfig creates a client with custom configuration.
func NewClientWithConfig(c *Config) (*Client, error) {
	if c == nil {
		c = &Config{}
	}
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return nil, domain.ConfigError("failed to load configuration", err)
	}
	if c.Provider != "" {
		cfg.Vision.Provider = c.Provider
		cfg.Vision.Model = ""
	}
	if c.Model != "" {
		cfg.Vision.Model = c.Model
	}
	if c.OutputDir != "" {
		cfg.Processing.OutputDir = c.OutputDir
	}

	logger := observability.Nop()
	if c.LogLevel != "" {
		cfg.Observability.LogLevel = c.LogLevel
		logger = app.NewLogger(cfg)
	}

	svc := app.NewPipeline(cfg, logger, nil)
	for _, o := range c.pipelineOptions {
		o(svc)
	}

	return &Client{
		cfg:      cfg,
		pipeline: svc,
		deployer: deploy.NewService(deploy.Config{
			S3Endpoint:     cfg.Deploy.S3Endpoint,
			S3Region:       cfg.Deploy.S3Region,
			S3Insecure:     cfg.Deploy.S3Insecure,
			KnownHostsPath: cfg.Deploy.KnownHostsPath,
			HTTPTimeout:    cfg.Deploy.HTTPTimeout,
		}, deploy.WithLogger(logger)),
		defaults: app.DefaultJobConfig(cfg),
	}, nil
}

// DefaultJobConfig returns the job configuration the client uses when
// Process is given a nil config.
func (c *Client) DefaultJobConfig() JobConfig {
	return c.defaults
}

// Convert processes pdfPath and blocks until it finishes. onProgress, when
// set, is called from the processing goroutines.
func (c *Client) Convert(ctx context.Context, pdfPath string, jobCfg *JobConfig, onProgress func(JobProgress)) (*JobResult, error) {
	cfg := c.defaults
	if jobCfg != nil {
		cfg = *jobCfg
	}
	return c.pipeline.Process(ctx, pipeline.Request{PDFPath: pdfPath, Config: cfg}, domain.ProgressFunc(onProgress))
}

// Process converts pdfPath in the background and streams its progress. The
// channel ends with one complete or error event and is then closed.
// Progress events are dropped while the receiver is behind.
func (c *Client) Process(ctx context.Context, pdfPath string, jobCfg *JobConfig) (<-chan Event, error) {
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, domain.ValidationError("PDF file not found", err)
	}

	events := make(chan Event, 100)
	go func() {
		defer close(events)
		result, err := c.Convert(ctx, pdfPath, jobCfg, func(p JobProgress) {
			select {
			case events <- Event{Type: EventProgress, Progress: &p}:
			default:
			}
		})

		final := Event{Type: EventComplete, Result: result}
		if err != nil {
			final = Event{Type: EventError, Err: err}
		}
		select {
		case events <- final:
		default:
			select {
			case events <- final:
			case <-ctx.Done():
			}
		}
	}()
	return events, nil
}

// Deploy pushes a result's images and markdown to the requested targets.
// stem names the document the result came from.
func (c *Client) Deploy(ctx context.Context, result *JobResult, stem string, req DeployRequest) (*DeployResponse, error) {
	return c.deployer.Deploy(ctx, result, stem, req)
}
