// Package deploy ships a completed job's artifacts to the destinations named
// in a deploy request. Image and markdown targets run independently: one
// failing never stops or hides the other.
package deploy

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/export"
	"github.com/spherical/pdf-enricher/internal/observability"
)

// Target types.
const (
	TargetLocalFolder = "local_folder"
	TargetS3          = "s3"
	TargetSCP         = "scp"
	TargetFlowise     = "flowise"
)

// ImageTarget says where the images directory goes. Type selects which of
// the remaining fields apply.
type ImageTarget struct {
	Type string `json:"type"`

	// local_folder
	Path string `json:"path,omitempty"`

	// s3
	Bucket string `json:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Region string `json:"region,omitempty"`

	// scp
	Host           string `json:"host,omitempty"`
	Port           int    `json:"port,omitempty"`
	Username       string `json:"username,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	RemotePath     string `json:"remote_path,omitempty"`
}

// Validate checks that the fields required by Type are present.
func (t *ImageTarget) Validate() error {
	switch t.Type {
	case TargetLocalFolder:
		return required(t.Type, "path", t.Path)
	case TargetS3:
		return required(t.Type, "bucket", t.Bucket)
	case TargetSCP:
		if err := required(t.Type, "host", t.Host); err != nil {
			return err
		}
		if err := required(t.Type, "username", t.Username); err != nil {
			return err
		}
		if t.Port < 0 || t.Port > 65535 {
			return domain.ValidationError(fmt.Sprintf("scp target: invalid port %d", t.Port), nil)
		}
		return required(t.Type, "remote_path", t.RemotePath)
	default:
		return domain.ValidationError(fmt.Sprintf("unknown image target type %q", t.Type), nil)
	}
}

// MarkdownTarget says where the rewritten markdown goes.
type MarkdownTarget struct {
	Type string `json:"type"`

	// local_folder
	Path string `json:"path,omitempty"`

	// flowise
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	StoreID string `json:"store_id,omitempty"`
}

// Validate checks that the fields required by Type are present.
func (t *MarkdownTarget) Validate() error {
	switch t.Type {
	case TargetLocalFolder:
		return required(t.Type, "path", t.Path)
	case TargetFlowise:
		if err := required(t.Type, "base_url", t.BaseURL); err != nil {
			return err
		}
		return required(t.Type, "store_id", t.StoreID)
	default:
		return domain.ValidationError(fmt.Sprintf("unknown markdown target type %q", t.Type), nil)
	}
}

func required(target, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.ValidationError(fmt.Sprintf("%s target: %s is required", target, field), nil)
	}
	return nil
}

// Request is a deploy request for one job.
type Request struct {
	ImageBaseURL   string          `json:"image_base_url"`
	ImageTarget    *ImageTarget    `json:"image_target,omitempty"`
	MarkdownTarget *MarkdownTarget `json:"markdown_target,omitempty"`
}

// Validate rejects requests that cannot run any target.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.ImageBaseURL) == "" {
		return domain.ValidationError("image_base_url is required", nil)
	}
	if r.ImageTarget == nil && r.MarkdownTarget == nil {
		return domain.ValidationError("at least one of image_target or markdown_target is required", nil)
	}
	if r.ImageTarget != nil {
		if err := r.ImageTarget.Validate(); err != nil {
			return err
		}
	}
	if r.MarkdownTarget != nil {
		if err := r.MarkdownTarget.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StepResult describes one successful target.
type StepResult struct {
	TargetType string `json:"target_type"`
	Detail     string `json:"detail"`
}

// Response aggregates the outcome of every configured target. A failed or
// unconfigured target has a nil result; failures are listed in Errors.
type Response struct {
	Success        bool        `json:"success"`
	ImageResult    *StepResult `json:"image_result,omitempty"`
	MarkdownResult *StepResult `json:"markdown_result,omitempty"`
	Errors         []string    `json:"errors"`
}

// Config holds ambient settings for remote targets.
type Config struct {
	S3Endpoint     string
	S3Region       string
	S3Insecure     bool
	KnownHostsPath string
	HTTPTimeout    time.Duration
}

const (
	defaultS3Endpoint  = "s3.amazonaws.com"
	defaultHTTPTimeout = 30 * time.Second
)

// Service runs deploy requests.
type Service struct {
	cfg        Config
	httpClient *http.Client
	newS3      func(ctx context.Context, t *ImageTarget) (objectPutter, error)
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient replaces the client used for document-store pushes.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records per-target outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func withObjectStore(f func(ctx context.Context, t *ImageTarget) (objectPutter, error)) Option {
	return func(s *Service) { s.newS3 = f }
}

// NewService creates a deploy service.
func NewService(cfg Config, options ...Option) *Service {
	if cfg.S3Endpoint == "" {
		cfg.S3Endpoint = defaultS3Endpoint
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	s := &Service{
		cfg:    cfg,
		logger: observability.Nop(),
	}
	s.newS3 = s.minioClient
	for _, o := range options {
		o(s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return s
}

// Deploy ships result to the targets of req. Validation problems are
// returned as an error before anything runs; target failures are reported
// in the response.
func (s *Service) Deploy(ctx context.Context, result *domain.JobResult, stem string, req Request) (*Response, error) {
	if result == nil {
		return nil, domain.ValidationError("job has no result", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	logger := s.logger.WithContext(ctx).WithOperation("deploy")

	markdown := export.ConvertImageTags(result.Markdown, req.ImageBaseURL)

	var (
		imageResult, markdownResult *StepResult
		imageErr, markdownErr       error
	)
	var g errgroup.Group
	if t := req.ImageTarget; t != nil {
		g.Go(func() error {
			detail, err := s.deployImages(ctx, t, result.ImagesDir, stem)
			imageResult, imageErr = s.outcome(t.Type, detail, err)
			return nil
		})
	}
	if t := req.MarkdownTarget; t != nil {
		g.Go(func() error {
			detail, err := s.deployMarkdown(ctx, t, markdown, stem)
			markdownResult, markdownErr = s.outcome(t.Type, detail, err)
			return nil
		})
	}
	_ = g.Wait()

	resp := &Response{
		ImageResult:    imageResult,
		MarkdownResult: markdownResult,
		Errors:         []string{},
	}
	if imageErr != nil {
		resp.Errors = append(resp.Errors, "image deploy failed: "+imageErr.Error())
	}
	if markdownErr != nil {
		resp.Errors = append(resp.Errors, "markdown deploy failed: "+markdownErr.Error())
	}
	resp.Success = len(resp.Errors) == 0

	evt := logger.Info()
	if !resp.Success {
		evt = logger.Warn().Strs("errors", resp.Errors)
	}
	evt.Bool("success", resp.Success).Str("stem", stem).Msg("Deploy finished")
	return resp, nil
}

func (s *Service) outcome(target, detail string, err error) (*StepResult, error) {
	if err != nil {
		s.metrics.ObserveDeploy(target, "error")
		return nil, err
	}
	s.metrics.ObserveDeploy(target, "success")
	return &StepResult{TargetType: target, Detail: detail}, nil
}

func (s *Service) deployImages(ctx context.Context, t *ImageTarget, dir, stem string) (string, error) {
	files, err := export.ImageFiles(dir)
	if err != nil {
		return "", err
	}
	switch t.Type {
	case TargetLocalFolder:
		return copyImages(dir, files, t.Path, stem)
	case TargetS3:
		return s.uploadImages(ctx, t, dir, files, stem)
	case TargetSCP:
		return s.scpImages(ctx, t, dir, files, stem)
	}
	return "", domain.ValidationError(fmt.Sprintf("unknown image target type %q", t.Type), nil)
}

func (s *Service) deployMarkdown(ctx context.Context, t *MarkdownTarget, markdown, stem string) (string, error) {
	switch t.Type {
	case TargetLocalFolder:
		return writeMarkdown(t.Path, stem, markdown)
	case TargetFlowise:
		return s.upsertFlowise(ctx, t, markdown)
	}
	return "", domain.ValidationError(fmt.Sprintf("unknown markdown target type %q", t.Type), nil)
}
