package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/pdf"
	"github.com/spherical/pdf-enricher/internal/vision"
)

const maxConfigBytes = 64 << 10

// CreateJobResponse is returned when an upload is accepted.
type CreateJobResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// JobSummary is a job without its result payload.
type JobSummary struct {
	ID         string              `json:"id"`
	Filename   string              `json:"filename"`
	Status     domain.JobStatus    `json:"status"`
	Config     domain.JobConfig    `json:"config"`
	Progress   *domain.JobProgress `json:"progress,omitempty"`
	ImageCount int                 `json:"image_count"`
	Error      string              `json:"error,omitempty"`
	ErrorCode  string              `json:"error_code,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func summarize(job *domain.Job) JobSummary {
	s := JobSummary{
		ID:        job.ID,
		Filename:  job.Filename,
		Status:    job.Status,
		Config:    job.Config,
		Progress:  job.Progress,
		Error:     job.Error,
		ErrorCode: job.ErrorCode,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Result != nil {
		s.ImageCount = job.Result.ImageCount
	}
	return s
}

// createJob accepts a multipart upload with a "file" part holding the PDF
// and an optional "config" part holding a JSON job configuration.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data upload")
		return
	}

	var (
		filename  string
		pdfPath   string
		rawConfig []byte
		submitted bool
	)
	defer func() {
		if !submitted && pdfPath != "" {
			os.Remove(pdfPath)
		}
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(w, r, domain.ValidationError("malformed multipart body", err))
			return
		}
		switch part.FormName() {
		case "file":
			if pdfPath != "" {
				part.Close()
				writeError(w, http.StatusBadRequest, "only one file may be uploaded")
				return
			}
			filename = filepath.Base(part.FileName())
			pdfPath, err = s.saveUpload(part)
		case "config":
			rawConfig, err = io.ReadAll(io.LimitReader(part, maxConfigBytes))
		}
		part.Close()
		if err != nil {
			s.fail(w, r, err)
			return
		}
	}

	if pdfPath == "" {
		writeError(w, http.StatusBadRequest, "no PDF file provided")
		return
	}
	if filename == "" || filename == "." || filename == "/" {
		filename = "upload.pdf"
	}
	if err := pdf.NewValidator().ValidatePDFPath(pdfPath); err != nil {
		s.fail(w, r, err)
		return
	}

	cfg := s.cfg.Defaults
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid config JSON: "+err.Error())
			return
		}
	}

	job, err := s.jobs.Submit(r.Context(), filename, pdfPath, cfg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	submitted = true

	s.logger.Info().Str("job_id", job.ID).Str("file", filename).Msg("Upload accepted")
	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:   job.ID,
		Message: fmt.Sprintf("Job created for '%s'", filename),
	})
}

// saveUpload streams the part into the upload directory under a random name.
func (s *Server) saveUpload(part io.Reader) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", domain.IOError("failed to create upload directory", err)
	}
	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+".pdf")
	f, err := os.Create(path)
	if err != nil {
		return "", domain.IOError("failed to store upload", err)
	}
	if _, err := io.Copy(f, part); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", domain.IOError("failed to store upload", err)
	}
	return path, nil
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]JobSummary, 0, len(list))
	for _, job := range list {
		out = append(out, summarize(job))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, summarize(job))
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type providerInfo struct {
	Name         string `json:"name"`
	DefaultModel string `json:"default_model"`
}

type option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type configResponse struct {
	Providers       []providerInfo   `json:"providers"`
	Languages       []option         `json:"languages"`
	QualityLevels   []option         `json:"quality_levels"`
	StorageBackends []string         `json:"storage_backends"`
	Defaults        domain.JobConfig `json:"defaults"`
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	resp := configResponse{
		Languages: []option{
			{Value: string(domain.LanguageThai), Label: "Thai"},
			{Value: string(domain.LanguageEnglish), Label: "English"},
		},
		QualityLevels: []option{
			{Value: domain.QualityStandard, Label: "Standard: text layer plus vision descriptions of images"},
			{Value: domain.QualityHigh, Label: "High: every page rendered and transcribed by the vision model"},
		},
		StorageBackends: []string{"local", "s3"},
		Defaults:        s.cfg.Defaults,
	}
	for _, name := range vision.Names() {
		resp.Providers = append(resp.Providers, providerInfo{Name: name, DefaultModel: vision.DefaultModel(name)})
	}
	writeJSON(w, http.StatusOK, resp)
}
