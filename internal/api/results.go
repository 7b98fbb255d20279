package api

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/pdf-enricher/internal/deploy"
	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/export"
)

// ResultResponse carries a completed job's output.
type ResultResponse struct {
	JobID      string                       `json:"job_id"`
	Markdown   string                       `json:"markdown"`
	Images     []domain.ImageMetadataRecord `json:"images"`
	Trash      []domain.TrashDetection      `json:"trash"`
	ImageCount int                          `json:"image_count"`
	Warnings   []string                     `json:"warnings,omitempty"`
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res := job.Result
	writeJSON(w, http.StatusOK, ResultResponse{
		JobID:      job.ID,
		Markdown:   res.Markdown,
		Images:     res.Images,
		Trash:      res.Trash,
		ImageCount: res.ImageCount,
		Warnings:   res.Warnings,
	})
}

// CleanRequest lists the pages to drop from a result.
type CleanRequest struct {
	RemovePages []int `json:"remove_pages"`
}

// CleanResponse is the markdown without the removed pages.
type CleanResponse struct {
	CleanedMarkdown string `json:"cleaned_markdown"`
	PagesRemoved    []int  `json:"pages_removed"`
	Path            string `json:"path,omitempty"`
}

// cleanResult removes page sections from the markdown and, when the job
// wrote its markdown to disk, stores the cleaned copy beside it. The job's
// own result is left untouched.
func (s *Server) cleanResult(w http.ResponseWriter, r *http.Request) {
	var req CleanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.RemovePages) == 0 {
		writeError(w, http.StatusBadRequest, "remove_pages must not be empty")
		return
	}

	job, err := s.jobs.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	cleaned, removed := export.RemovePages(job.Result.Markdown, req.RemovePages)
	resp := CleanResponse{CleanedMarkdown: cleaned, PagesRemoved: removed}
	if resp.PagesRemoved == nil {
		resp.PagesRemoved = []int{}
	}
	if mdPath := job.Result.MarkdownPath; mdPath != "" {
		path := strings.TrimSuffix(mdPath, filepath.Ext(mdPath)) + "_cleaned.md"
		if err := os.WriteFile(path, []byte(cleaned), 0o644); err != nil {
			s.fail(w, r, domain.IOError("failed to write cleaned markdown", err))
			return
		}
		resp.Path = path
	}
	writeJSON(w, http.StatusOK, resp)
}

// exportResult streams the result as a zip. An optional base_url query
// parameter rewrites image tags into HTML image references.
func (s *Server) exportResult(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stem := domain.Stem(job.Filename)

	var buf bytes.Buffer
	if err := export.WriteZip(&buf, job.Result, stem, r.URL.Query().Get("base_url")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": stem + ".zip"}))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) deployResult(w http.ResponseWriter, r *http.Request) {
	var req deploy.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	job, err := s.jobs.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp, err := s.deployer.Deploy(r.Context(), job.Result, domain.Stem(job.Filename), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// serveImages serves files from the job's images directory so markdown
// converted with base "/api/jobs/{id}/images" renders in a browser.
func (s *Server) serveImages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.jobs.Get(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	root := http.Dir(filepath.Join(s.jobs.JobDir(id), "images"))
	prefix := strings.TrimSuffix(r.URL.Path, chi.URLParam(r, "*"))
	http.StripPrefix(prefix, http.FileServer(root)).ServeHTTP(w, r)
}
