// Package api exposes the job manager and deploy layer over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spherical/pdf-enricher/internal/deploy"
	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/observability"
)

// Jobs is the job lifecycle the API drives.
type Jobs interface {
	Submit(ctx context.Context, filename, pdfPath string, cfg domain.JobConfig) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context) ([]*domain.Job, error)
	Result(ctx context.Context, id string) (*domain.Job, error)
	Cancel(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Subscribe(ctx context.Context, id string) (<-chan domain.JobProgress, func(), error)
	JobDir(id string) string
}

// Deployer ships a completed job's artifacts.
type Deployer interface {
	Deploy(ctx context.Context, result *domain.JobResult, stem string, req deploy.Request) (*deploy.Response, error)
}

// Config holds API settings.
type Config struct {
	UploadDir      string
	MaxUploadBytes int64
	AllowedOrigins []string
	// Defaults seeds the configuration of uploads that omit fields.
	Defaults domain.JobConfig
}

const defaultMaxUpload = 200 << 20

// Server holds the handlers' dependencies.
type Server struct {
	cfg      Config
	jobs     Jobs
	deployer Deployer
	gatherer prometheus.Gatherer
	logger   *observability.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetricsGatherer serves the gatherer's metrics at /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates the API server.
func NewServer(cfg Config, jobs Jobs, deployer Deployer, opts ...Option) *Server {
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./uploads"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		cfg:      cfg,
		jobs:     jobs,
		deployer: deployer,
		logger:   observability.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the HTTP handler with every route configured.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors(s.cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pdf-enricher"})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.getConfig)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.deleteJob)
				r.Post("/cancel", s.cancelJob)
				r.Get("/result", s.getResult)
				r.Post("/clean", s.cleanResult)
				r.Get("/export", s.exportResult)
				r.Post("/deploy", s.deployResult)
				r.Get("/images/*", s.serveImages)
				r.Get("/ws", s.streamProgress)
			})
		})
	})

	return r
}

// requestLogger logs one line per request with the job ID when routed.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		evt := s.logger.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
