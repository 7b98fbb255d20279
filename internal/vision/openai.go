package vision

import (
	"context"
	"net/http"
	"strings"
)

const defaultOpenAIURL = "https://api.openai.com/v1"

// OpenAI uses the chat completions API with an inline data-URL image.
type OpenAI struct {
	model   string
	apiKey  string
	baseURL string
	t       *transport
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func newOpenAI(model string, o *options) (*OpenAI, error) {
	key := o.apiKey
	if key == "" {
		key = o.env("OPENAI_API_KEY", "")
	}
	if key == "" {
		return nil, AuthError(ProviderOpenAI, "missing OPENAI_API_KEY environment variable", nil)
	}
	base := o.baseURL
	if base == "" {
		base = o.env("OPENAI_BASE_URL", defaultOpenAIURL)
	}
	return &OpenAI{
		model:   model,
		apiKey:  key,
		baseURL: strings.TrimRight(base, "/"),
		t:       newTransport(ProviderOpenAI, o),
	}, nil
}

func (p *OpenAI) Name() string  { return ProviderOpenAI }
func (p *OpenAI) Model() string { return p.model }

func (p *OpenAI) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func (p *OpenAI) Describe(ctx context.Context, img Image, prompt string) (string, error) {
	req := chatRequest{
		Model: p.model,
		Messages: []Message{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &ImageURL{URL: "data:" + img.mime() + ";base64," + img.base64()}},
			},
		}},
		MaxTokens: 4096,
	}

	var resp chatResponse
	err := p.t.do(ctx, call{
		method:  http.MethodPost,
		url:     p.baseURL + "/chat/completions",
		headers: p.headers(),
		body:    req,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", MalformedResponseError(ProviderOpenAI, "response has no choices", nil)
	}
	return requireText(ProviderOpenAI, resp.Choices[0].Message.Content)
}

func (p *OpenAI) ExtractTable(ctx context.Context, img Image, prompt string) (string, error) {
	return p.Describe(ctx, img, prompt)
}

// Check verifies the key by fetching the configured model.
func (p *OpenAI) Check(ctx context.Context) error {
	var model struct {
		ID string `json:"id"`
	}
	return p.t.do(ctx, call{
		method:  http.MethodGet,
		url:     p.baseURL + "/models/" + p.model,
		headers: p.headers(),
		noRetry: true,
	}, &model)
}
