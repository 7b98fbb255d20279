package vision

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const defaultOllamaHost = "http://localhost:11434"

// Ollama talks to a local Ollama server. No credential is needed.
type Ollama struct {
	model string
	host  string
	t     *transport
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func newOllama(model string, o *options) *Ollama {
	host := o.baseURL
	if host == "" {
		host = o.env("OLLAMA_HOST", defaultOllamaHost)
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return &Ollama{
		model: model,
		host:  strings.TrimRight(host, "/"),
		t:     newTransport(ProviderOllama, o),
	}
}

func (p *Ollama) Name() string  { return ProviderOllama }
func (p *Ollama) Model() string { return p.model }

// Describe sends the image and prompt to /api/chat.
func (p *Ollama) Describe(ctx context.Context, img Image, prompt string) (string, error) {
	req := ollamaChatRequest{
		Model: p.model,
		Messages: []ollamaMessage{{
			Role:    "user",
			Content: prompt,
			Images:  []string{img.base64()},
		}},
	}

	var resp ollamaChatResponse
	if err := p.t.do(ctx, call{method: http.MethodPost, url: p.host + "/api/chat", body: req}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", MalformedResponseError(ProviderOllama, resp.Error, nil)
	}
	return requireText(ProviderOllama, resp.Message.Content)
}

func (p *Ollama) ExtractTable(ctx context.Context, img Image, prompt string) (string, error) {
	return p.Describe(ctx, img, prompt)
}

// Check lists the local models and verifies the configured one is pulled.
func (p *Ollama) Check(ctx context.Context) error {
	var tags ollamaTagsResponse
	err := p.t.do(ctx, call{method: http.MethodGet, url: p.host + "/api/tags", noRetry: true}, &tags)
	if err != nil {
		if IsTransient(err) {
			return TransientError(ProviderOllama, fmt.Sprintf("cannot connect to Ollama at %s (is `ollama serve` running?)", p.host), err)
		}
		return err
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if strings.Contains(m.Name, p.model) {
			return nil
		}
		names = append(names, m.Name)
	}
	available := "none"
	if len(names) > 0 {
		available = strings.Join(names, ", ")
	}
	return MalformedResponseError(ProviderOllama,
		fmt.Sprintf("model %q not found, run `ollama pull %s` (available: %s)", p.model, p.model, available), nil)
}
