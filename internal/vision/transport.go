package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/observability"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 32 << 20

var osGetenv = os.Getenv

// transport is the HTTP plumbing shared by every provider.
type transport struct {
	provider string
	client   *http.Client
	retry    *RetryConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
}

func newTransport(provider string, o *options) *transport {
	return &transport{
		provider: provider,
		client:   o.httpClient,
		retry:    o.retry,
		logger:   o.logger,
		metrics:  o.metrics,
	}
}

type call struct {
	method  string
	url     string
	headers map[string]string
	body    any
	// noRetry sends once regardless of the retry policy.
	noRetry bool
}

// do sends c, retrying transient failures with exponential backoff, and
// decodes a 2xx JSON body into out. Status codes are mapped onto the
// provider error taxonomy.
func (t *transport) do(ctx context.Context, c call, out any) (err error) {
	start := time.Now()
	defer func() {
		t.metrics.ObserveProvider(t.provider, outcome(err), time.Since(start))
	}()

	var payload []byte
	if c.body != nil {
		payload, err = json.Marshal(c.body)
		if err != nil {
			return domain.InternalError("failed to marshal request", err)
		}
	}

	retries := t.retry.MaxRetries
	if c.noRetry {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return domain.CancellationError("provider call cancelled", ctx.Err())
		}

		body, attemptErr := t.send(ctx, c, payload)
		if attemptErr == nil {
			if len(bytes.TrimSpace(body)) == 0 {
				return MalformedResponseError(t.provider, "empty response body", nil)
			}
			if err := json.Unmarshal(body, out); err != nil {
				return MalformedResponseError(t.provider, "unparsable response body", err)
			}
			return nil
		}
		if !IsTransient(attemptErr) {
			return attemptErr
		}
		lastErr = attemptErr

		if attempt == retries {
			break
		}

		backoff := calculateBackoff(attempt, t.retry)
		t.logger.Warn().
			Str("provider", t.provider).
			Int("attempt", attempt+1).
			Int("max_retries", retries).
			Dur("backoff", backoff).
			Err(lastErr).
			Msg("Provider request failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.CancellationError("provider call cancelled", ctx.Err())
		case <-timer.C:
		}
	}

	if retries == 0 {
		return lastErr
	}
	return TransientError(t.provider, fmt.Sprintf("request failed after %d retries", retries), lastErr)
}

func (t *transport) send(ctx context.Context, c call, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, c.url, reader)
	if err != nil {
		return nil, domain.ConfigError(fmt.Sprintf("%s: invalid endpoint %q", t.provider, c.url), err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.CancellationError("provider call cancelled", ctx.Err())
		}
		return nil, TransientError(t.provider, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, TransientError(t.provider, "failed to read response", err)
	}

	switch classifyStatus(resp.StatusCode) {
	case statusOK:
		return body, nil
	case statusAuth:
		return nil, AuthError(t.provider, fmt.Sprintf("API returned status %d: %s", resp.StatusCode, snippet(body)), nil)
	case statusRetry:
		return nil, TransientError(t.provider, fmt.Sprintf("API returned status %d: %s", resp.StatusCode, snippet(body)), nil)
	default:
		return nil, MalformedResponseError(t.provider, fmt.Sprintf("API returned status %d: %s", resp.StatusCode, snippet(body)), nil)
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}

func requireText(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", MalformedResponseError(provider, "response contained no text", nil)
	}
	return text, nil
}
