package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/jobs"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// fail maps err onto a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	resp := errorResponse{Error: err.Error()}
	var de *domain.DomainError
	if errors.As(err, &de) {
		resp.Error = de.Message
		resp.Code = string(de.Type)
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNotCompleted):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	}
	switch domain.TypeOf(err) {
	case domain.ErrorTypeValidation, domain.ErrorTypeInput, domain.ErrorTypeConfig:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
