//go:build integration

package enricher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf-enricher/internal/domain"
)

func init() {
	_ = godotenv.Load("../../.env")
}

// TestProcess_RealDocument runs the whole pipeline on a real PDF with MuPDF
// and a live vision provider. Set PDF_ENRICHER_SAMPLE_PDF and the provider's
// credentials to enable it.
func TestProcess_RealDocument(t *testing.T) {
	pdfPath := os.Getenv("PDF_ENRICHER_SAMPLE_PDF")
	if pdfPath == "" {
		t.Skip("PDF_ENRICHER_SAMPLE_PDF not set")
	}
	if _, err := os.Stat(pdfPath); os.IsNotExist(err) {
		t.Skipf("sample PDF not found at %s", pdfPath)
	}

	client, err := NewClientWithConfig(&Config{
		Provider:  os.Getenv("VISION_PROVIDER"),
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cfg := client.DefaultJobConfig()
	cfg.Language = domain.LanguageEnglish
	events, err := client.Process(ctx, pdfPath, &cfg)
	require.NoError(t, err)

	var (
		last      Event
		maxPage   int
		sawPhases = map[string]bool{}
	)
	for ev := range events {
		last = ev
		if ev.Type == EventProgress {
			sawPhases[ev.Progress.Phase] = true
			if ev.Progress.CurrentPage > maxPage {
				maxPage = ev.Progress.CurrentPage
			}
		}
	}
	require.Equal(t, EventComplete, last.Type, "processing failed: %v", last.Err)

	result := last.Result
	assert.Greater(t, maxPage, 0)
	assert.True(t, sawPhases[domain.PhaseExtracting])
	assert.NotEmpty(t, result.Markdown)
	assert.Equal(t, result.ImageCount, len(result.Images))
	assert.Equal(t, len(result.Images), strings.Count(result.Markdown, "[IMAGE:"))

	for _, img := range result.Images {
		assert.FileExists(t, filepath.Join(result.ImagesDir, filepath.Base(img.ImageFile)))
	}
	t.Logf("Output written to %s", result.MarkdownPath)
}
