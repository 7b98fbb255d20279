package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf-enricher/internal/deploy"
	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/export"
	"github.com/spherical/pdf-enricher/internal/jobs"
	"github.com/spherical/pdf-enricher/internal/observability"
	"github.com/spherical/pdf-enricher/internal/pipeline"
)

const samplePDF = "%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n"

// stubProcessor writes a two-page result with one image. When gate is set
// it waits for it before finishing.
type stubProcessor struct {
	gate chan struct{}
}

func (p *stubProcessor) Process(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error) {
	sink.Report(domain.JobProgress{CurrentPage: 1, TotalPages: 2, Phase: domain.PhaseExtracting})
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, domain.CancellationError("stopped", ctx.Err())
		}
	}

	stem := domain.Stem(req.Filename)
	imagesDir := filepath.Join(req.OutputDir, "images", stem)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, err
	}
	file := stem + "_page_001_img1.png"
	if err := os.WriteFile(filepath.Join(imagesDir, file), []byte("png"), 0o644); err != nil {
		return nil, err
	}
	md := export.Join("# "+stem, []string{
		export.Section(1, export.ImageTag(stem+"/"+file)+"\n**[Image 1]:** A pump."),
		export.Section(2, "Specifications."),
	})
	sink.Report(domain.JobProgress{CurrentPage: 2, TotalPages: 2, ImagesProcessed: 1, Phase: domain.PhaseComplete})
	return &domain.JobResult{
		Markdown:     md,
		Images:       []domain.ImageMetadataRecord{{ImageFile: stem + "/" + file, Page: 1, Description: "A pump."}},
		ImageCount:   1,
		OutputDir:    req.OutputDir,
		ImagesDir:    imagesDir,
		MarkdownPath: filepath.Join(req.OutputDir, stem+"_enriched.md"),
	}, nil
}

type harness struct {
	ts      *httptest.Server
	manager *jobs.Manager
	uploads string
}

func newHarness(t *testing.T, proc jobs.Processor) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := jobs.OpenSQLStore(ctx, "sqlite", filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	manager := jobs.NewManager(store, proc,
		jobs.WithOutputDir(t.TempDir()),
		jobs.WithWorkers(1),
		jobs.WithMetrics(metrics),
	)
	require.NoError(t, manager.Start(ctx))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	uploads := t.TempDir()
	srv := NewServer(Config{
		UploadDir: uploads,
		Defaults:  domain.JobConfig{Provider: "ollama", Language: domain.LanguageEnglish},
	}, manager, deploy.NewService(deploy.Config{}, deploy.WithMetrics(metrics)), WithMetricsGatherer(reg))

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &harness{ts: ts, manager: manager, uploads: uploads}
}

func (h *harness) upload(t *testing.T, filename, content, config string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if config != "" {
		require.NoError(t, mw.WriteField("config", config))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(h.ts.URL+"/api/jobs", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func (h *harness) submit(t *testing.T, config string) string {
	t.Helper()
	resp := h.upload(t, "manual.pdf", samplePDF, config)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created CreateJobResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.JobID)
	assert.Equal(t, "Job created for 'manual.pdf'", created.Message)
	return created.JobID
}

func (h *harness) waitFor(t *testing.T, id string, status domain.JobStatus) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.manager.Get(context.Background(), id)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestJobLifecycle(t *testing.T) {
	h := newHarness(t, &stubProcessor{})
	id := h.submit(t, `{"language":"th","table_extraction":true}`)
	h.waitFor(t, id, domain.StatusCompleted)

	resp := h.do(t, http.MethodGet, "/api/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decode[domain.Job](t, resp)
	assert.Equal(t, "manual.pdf", job.Filename)
	assert.Equal(t, domain.LanguageThai, job.Config.Language)
	assert.Equal(t, "ollama", job.Config.Provider, "unset fields keep the server defaults")
	require.NotNil(t, job.Progress)
	assert.Equal(t, domain.PhaseComplete, job.Progress.Phase)

	resp = h.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]JobSummary](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, 1, list[0].ImageCount)

	resp = h.do(t, http.MethodGet, "/api/jobs/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[ResultResponse](t, resp)
	assert.Equal(t, id, result.JobID)
	assert.Contains(t, result.Markdown, "[IMAGE:manual/manual_page_001_img1.png]")
	assert.Equal(t, 1, result.ImageCount)
	require.Len(t, result.Images, 1)

	resp = h.do(t, http.MethodGet, "/api/jobs/"+id+"/images/manual/manual_page_001_img1.png", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	img, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "png", string(img))

	resp = h.do(t, http.MethodDelete, "/api/jobs/"+id, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/jobs/"+id, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NoDirExists(t, h.manager.JobDir(id))
}

func TestCreateJob_Rejects(t *testing.T) {
	h := newHarness(t, &stubProcessor{})

	tests := []struct {
		name     string
		filename string
		content  string
		config   string
	}{
		{"missing file", "", "", `{"text_only":true}`},
		{"not a pdf", "notes.pdf", "just some text", ""},
		{"invalid config json", "manual.pdf", samplePDF, `{"language":`},
		{"invalid config", "manual.pdf", samplePDF, `{"quality":"ultra"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.upload(t, tt.filename, tt.content, tt.config)
			body := decode[errorResponse](t, resp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body.Error)
		})
	}

	entries, err := os.ReadDir(h.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads are removed")

	resp, err := http.Post(h.ts.URL+"/api/jobs", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResultBeforeCompletion(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &stubProcessor{gate: gate})
	id := h.submit(t, "")
	h.waitFor(t, id, domain.StatusProcessing)

	for _, path := range []string{"/result", "/export"} {
		resp := h.do(t, http.MethodGet, "/api/jobs/"+id+path, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode, path)
	}
	close(gate)
	h.waitFor(t, id, domain.StatusCompleted)

	resp := h.do(t, http.MethodGet, "/api/jobs/"+id+"/result", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCancelJob(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	h := newHarness(t, &stubProcessor{gate: gate})
	id := h.submit(t, "")
	h.waitFor(t, id, domain.StatusProcessing)

	resp := h.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	job := h.waitFor(t, id, domain.StatusFailed)
	assert.Equal(t, domain.CodeCancelled, job.ErrorCode)
	require.NotNil(t, job.Progress)
	assert.Equal(t, 1, job.Progress.CurrentPage)
	assert.Equal(t, domain.PhaseError, job.Progress.Phase)

	resp = h.do(t, http.MethodPost, "/api/jobs/missing/cancel", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCleanResult(t *testing.T) {
	h := newHarness(t, &stubProcessor{})
	id := h.submit(t, "")
	h.waitFor(t, id, domain.StatusCompleted)

	resp := h.do(t, http.MethodPost, "/api/jobs/"+id+"/clean", CleanRequest{RemovePages: []int{2, 7}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleaned := decode[CleanResponse](t, resp)
	assert.Equal(t, []int{2}, cleaned.PagesRemoved)
	assert.NotContains(t, cleaned.CleanedMarkdown, "## Page 2")
	assert.Contains(t, cleaned.CleanedMarkdown, "## Page 1")
	assert.FileExists(t, cleaned.Path)

	resp = h.do(t, http.MethodPost, "/api/jobs/"+id+"/clean", CleanRequest{})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/jobs/"+id+"/result", nil)
	result := decode[ResultResponse](t, resp)
	assert.Contains(t, result.Markdown, "## Page 2", "the stored result is unchanged")
}

func TestExportResult(t *testing.T) {
	h := newHarness(t, &stubProcessor{})
	id := h.submit(t, "")
	h.waitFor(t, id, domain.StatusCompleted)

	resp := h.do(t, http.MethodGet, "/api/jobs/"+id+"/export?base_url=https://cdn.example.com/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	disposition, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, "manual.zip", params["filename"])
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := map[string]*zip.File{}
	for _, f := range zr.File {
		names[f.Name] = f
	}
	assert.Contains(t, names, "images/manual/manual_page_001_img1.png")
	require.Contains(t, names, "manual.md")

	rc, err := names["manual.md"].Open()
	require.NoError(t, err)
	md, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Contains(t, string(md), `<img src="https://cdn.example.com/manual/manual_page_001_img1.png"`)
}

func TestExportResult_UnsafeFilename(t *testing.T) {
	h := newHarness(t, &stubProcessor{})
	resp := h.upload(t, `spec "final" [v2].pdf`, samplePDF, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[CreateJobResponse](t, resp)
	h.waitFor(t, created.JobID, domain.StatusCompleted)

	resp = h.do(t, http.MethodGet, "/api/jobs/"+created.JobID+"/export", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "spec__final___v2.zip", params["filename"])
}

func TestDeployResult(t *testing.T) {
	h := newHarness(t, &stubProcessor{})
	id := h.submit(t, "")
	h.waitFor(t, id, domain.StatusCompleted)

	imgDest := t.TempDir()
	resp := h.do(t, http.MethodPost, "/api/jobs/"+id+"/deploy", deploy.Request{
		ImageBaseURL: "https://cdn.example.com",
		ImageTarget:  &deploy.ImageTarget{Type: deploy.TargetLocalFolder, Path: imgDest},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[deploy.Response](t, resp)
	assert.True(t, out.Success)
	assert.Nil(t, out.MarkdownResult)
	require.NotNil(t, out.ImageResult)
	assert.FileExists(t, filepath.Join(imgDest, "manual", "manual_page_001_img1.png"))

	resp = h.do(t, http.MethodPost, "/api/jobs/"+id+"/deploy", deploy.Request{
		ImageTarget: &deploy.ImageTarget{Type: deploy.TargetLocalFolder, Path: imgDest},
	})
	body := decode[errorResponse](t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body.Error, "image_base_url")

	resp = h.do(t, http.MethodPost, "/api/jobs/missing/deploy", deploy.Request{
		ImageBaseURL: "https://cdn.example.com",
		ImageTarget:  &deploy.ImageTarget{Type: deploy.TargetLocalFolder, Path: imgDest},
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamProgress(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, &stubProcessor{gate: gate})
	id := h.submit(t, "")
	h.waitFor(t, id, domain.StatusProcessing)

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/jobs/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var job domain.Job
	require.NoError(t, conn.ReadJSON(&job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.StatusProcessing, job.Status)

	var first domain.JobProgress
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, domain.PhaseExtracting, first.Phase, "late subscribers start from the latest snapshot")

	close(gate)

	var last domain.JobProgress
	for {
		var p domain.JobProgress
		if err := conn.ReadJSON(&p); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
		last = p
	}
	assert.Equal(t, domain.PhaseComplete, last.Phase)
	assert.Equal(t, 2, last.CurrentPage)
}

func TestStreamProgress_FinishedJob(t *testing.T) {
	h := newHarness(t, &stubProcessor{})
	id := h.submit(t, "")
	h.waitFor(t, id, domain.StatusCompleted)

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/api/jobs/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var job domain.Job
	require.NoError(t, conn.ReadJSON(&job))
	assert.Equal(t, domain.StatusCompleted, job.Status)

	var p domain.JobProgress
	require.NoError(t, conn.ReadJSON(&p))
	assert.Equal(t, domain.PhaseComplete, p.Phase)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.ts.URL, "http")+"/api/jobs/missing/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfigHealthAndMetrics(t *testing.T) {
	h := newHarness(t, &stubProcessor{})

	resp := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", health["status"])

	resp = h.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg := decode[configResponse](t, resp)
	require.NotEmpty(t, cfg.Providers)
	assert.Equal(t, "ollama", cfg.Providers[0].Name)
	assert.NotEmpty(t, cfg.Providers[0].DefaultModel)
	assert.Len(t, cfg.Languages, 2)
	assert.Equal(t, "ollama", cfg.Defaults.Provider)

	id := h.submit(t, "")
	h.waitFor(t, id, domain.StatusCompleted)

	resp = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(text), "pdf_enricher_jobs_total")

	req, err := http.NewRequest(http.MethodOptions, h.ts.URL+"/api/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
