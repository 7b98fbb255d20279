// Package vision talks to vision-capable LLMs. Three providers are
// supported (ollama, openai and claude); all share one HTTP transport with
// retry, error classification and metrics.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/observability"
)

// Provider names.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderClaude    = "claude"
	providerAnthropic = "anthropic"
)

// Image is an encoded picture sent to a provider.
type Image struct {
	Data []byte
	MIME string
}

// PNG wraps PNG bytes.
func PNG(data []byte) Image {
	return Image{Data: data, MIME: "image/png"}
}

func (i Image) base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

func (i Image) mime() string {
	if i.MIME == "" {
		return "image/png"
	}
	return i.MIME
}

// Provider describes images with a vision model.
type Provider interface {
	Name() string
	Model() string
	Describe(ctx context.Context, img Image, prompt string) (string, error)
	// Check verifies the provider is reachable and configured, without retries.
	Check(ctx context.Context) error
}

// TableExtractor is implemented by providers that can turn a table image
// into markdown. Callers type-assert and fall back to Describe.
type TableExtractor interface {
	ExtractTable(ctx context.Context, img Image, prompt string) (string, error)
}

// Names lists the supported providers.
func Names() []string {
	return []string{ProviderOllama, ProviderOpenAI, ProviderClaude}
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(provider string) string {
	switch canonical(provider) {
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderClaude:
		return "claude-opus-4-6"
	default:
		return "qwen2.5vl"
	}
}

func canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == providerAnthropic {
		return ProviderClaude
	}
	return name
}

type options struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	retry      *RetryConfig
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
	getenv     func(string) string
}

// Option configures a provider.
type Option func(*options)

// WithBaseURL overrides the provider endpoint (env or built-in default otherwise).
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithAPIKey sets the credential instead of reading it from the environment.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetry replaces the retry policy.
func WithRetry(cfg *RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEnv replaces os.Getenv for credential and endpoint lookup.
func WithEnv(getenv func(string) string) Option {
	return func(o *options) { o.getenv = getenv }
}

// New builds a provider by name. An empty model selects DefaultModel.
func New(name, model string, opts ...Option) (Provider, error) {
	o := &options{
		timeout: 120 * time.Second,
		retry:   DefaultRetryConfig(),
		logger:  observability.Nop(),
		getenv:  osGetenv,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	if model == "" {
		model = DefaultModel(name)
	}

	switch canonical(name) {
	case ProviderOllama:
		return newOllama(model, o), nil
	case ProviderOpenAI:
		p, err := newOpenAI(model, o)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderClaude:
		p, err := newAnthropic(model, o)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown provider %q, use: ollama | openai | claude", name), nil)
	}
}

func (o *options) env(key, fallback string) string {
	if v := strings.TrimSpace(o.getenv(key)); v != "" {
		return v
	}
	return fallback
}
