package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spherical/pdf-enricher/internal/domain"
)

const maxErrorBody = 4096

type flowiseUpsert struct {
	DocLoaders []flowiseLoader `json:"docLoaders"`
}

type flowiseLoader struct {
	Loader       string              `json:"loader"`
	LoaderConfig flowiseLoaderConfig `json:"loaderConfig"`
}

type flowiseLoaderConfig struct {
	Text string `json:"text"`
}

// upsertFlowise pushes markdown into a Flowise document store as one
// plain-text loader.
func (s *Service) upsertFlowise(ctx context.Context, t *MarkdownTarget, markdown string) (string, error) {
	body, err := json.Marshal(flowiseUpsert{
		DocLoaders: []flowiseLoader{{
			Loader:       "plainText",
			LoaderConfig: flowiseLoaderConfig{Text: markdown},
		}},
	})
	if err != nil {
		return "", domain.InternalError("failed to encode flowise request", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/document-store/upsert/%s", strings.TrimRight(t.BaseURL, "/"), t.StoreID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.ValidationError("invalid flowise base_url", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", domain.StorageError("flowise request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", domain.StorageError(fmt.Sprintf("Flowise API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return "Document upserted to Flowise store " + t.StoreID, nil
}
