package vision

import (
	"context"
	"net/http"
	"strings"
)

const (
	defaultAnthropicURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// Anthropic uses the Messages API with a base64 image block.
type Anthropic struct {
	model   string
	apiKey  string
	baseURL string
	t       *transport
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

func newAnthropic(model string, o *options) (*Anthropic, error) {
	key := o.apiKey
	if key == "" {
		key = o.env("ANTHROPIC_API_KEY", "")
	}
	if key == "" {
		return nil, AuthError(ProviderClaude, "missing ANTHROPIC_API_KEY environment variable", nil)
	}
	base := o.baseURL
	if base == "" {
		base = o.env("ANTHROPIC_BASE_URL", defaultAnthropicURL)
	}
	return &Anthropic{
		model:   model,
		apiKey:  key,
		baseURL: strings.TrimRight(base, "/"),
		t:       newTransport(ProviderClaude, o),
	}, nil
}

func (p *Anthropic) Name() string  { return ProviderClaude }
func (p *Anthropic) Model() string { return p.model }

func (p *Anthropic) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

func (p *Anthropic) Describe(ctx context.Context, img Image, prompt string) (string, error) {
	req := anthropicRequest{
		Model:     p.model,
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []anthropicBlock{
				{Type: "image", Source: &anthropicSource{Type: "base64", MediaType: img.mime(), Data: img.base64()}},
				{Type: "text", Text: prompt},
			},
		}},
	}

	var resp anthropicResponse
	err := p.t.do(ctx, call{
		method:  http.MethodPost,
		url:     p.baseURL + "/v1/messages",
		headers: p.headers(),
		body:    req,
	}, &resp)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return requireText(ProviderClaude, sb.String())
}

func (p *Anthropic) ExtractTable(ctx context.Context, img Image, prompt string) (string, error) {
	return p.Describe(ctx, img, prompt)
}

// Check verifies the key by fetching the configured model.
func (p *Anthropic) Check(ctx context.Context) error {
	var model struct {
		ID string `json:"id"`
	}
	return p.t.do(ctx, call{
		method:  http.MethodGet,
		url:     p.baseURL + "/v1/models/" + p.model,
		headers: p.headers(),
		noRetry: true,
	}, &model)
}
