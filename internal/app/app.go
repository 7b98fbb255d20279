// Package app builds the enricher's components from configuration. The CLI
// and the public facade share it so both wire things the same way.
package app

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spherical/pdf-enricher/internal/api"
	"github.com/spherical/pdf-enricher/internal/config"
	"github.com/spherical/pdf-enricher/internal/deploy"
	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/jobs"
	"github.com/spherical/pdf-enricher/internal/observability"
	"github.com/spherical/pdf-enricher/internal/pipeline"
	"github.com/spherical/pdf-enricher/internal/vision"
)

// NewLogger builds the logger described by cfg.
func NewLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		Output:      os.Stderr,
		ServiceName: "pdf-enricher",
	})
}

// NewMetrics registers the enricher's collectors with reg when metrics are
// enabled and returns nil otherwise. A nil *Metrics is safe to use.
func NewMetrics(cfg *config.Config, reg prometheus.Registerer) *observability.Metrics {
	if !cfg.Observability.MetricsEnabled {
		return nil
	}
	return observability.NewMetrics(reg)
}

// ProviderFactory builds vision providers with the configured timeout and
// retry policy.
func ProviderFactory(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) pipeline.ProviderFactory {
	return func(name, model string) (vision.Provider, error) {
		if name == "" {
			name = cfg.Vision.Provider
		}
		if model == "" && name == cfg.Vision.Provider {
			model = cfg.Vision.Model
		}
		retry := vision.DefaultRetryConfig()
		retry.MaxRetries = cfg.Vision.MaxRetries
		if cfg.Vision.RetryDelay > 0 {
			retry.InitialBackoff = cfg.Vision.RetryDelay
		}
		opts := []vision.Option{
			vision.WithRetry(retry),
			vision.WithLogger(logger),
			vision.WithMetrics(metrics),
		}
		if cfg.Vision.Timeout > 0 {
			opts = append(opts, vision.WithTimeout(cfg.Vision.Timeout))
		}
		return vision.New(name, model, opts...)
	}
}

// NewPipeline builds the processing service.
func NewPipeline(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) *pipeline.Service {
	return pipeline.NewService(pipeline.Options{
		DPI:               cfg.Processing.DPI,
		MinImageSize:      cfg.Processing.MinImageSize,
		Threshold:         cfg.Processing.Threshold,
		MaxConcurrency:    cfg.Vision.MaxConcurrency,
		RequestsPerSecond: cfg.Vision.RequestsPerSecond,
		DetectTrash:       cfg.Processing.DetectTrash,
		OutputDir:         cfg.Processing.OutputDir,
	},
		pipeline.WithProviderFactory(ProviderFactory(cfg, logger, metrics)),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)
}

// DefaultJobConfig is the job configuration used when a caller leaves
// fields unset.
func DefaultJobConfig(cfg *config.Config) domain.JobConfig {
	return domain.JobConfig{
		Provider:        cfg.Vision.Provider,
		Model:           cfg.Vision.Model,
		Language:        domain.Language(cfg.Processing.Language),
		TableExtraction: cfg.Processing.TableExtraction,
		Quality:         domain.QualityStandard,
		Storage:         "local",
	}
}

// OpenStore opens the configured job store.
func OpenStore(ctx context.Context, cfg *config.Config) (*jobs.SQLStore, error) {
	if cfg.Database.Driver == "sqlite" {
		if dir := filepath.Dir(cfg.Database.SQLite.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, domain.IOError("failed to create database directory", err)
			}
		}
		return jobs.OpenSQLStore(ctx, "sqlite", cfg.Database.SQLite.Path)
	}

	pg := cfg.Database.Postgres
	db, err := sql.Open("postgres", pg.DSN)
	if err != nil {
		return nil, domain.StorageError("failed to open job database", err)
	}
	db.SetMaxOpenConns(pg.MaxOpenConns)
	db.SetMaxIdleConns(pg.MaxIdleConns)
	db.SetConnMaxLifetime(pg.ConnMaxLifetime)

	store, err := jobs.NewSQLStore(ctx, db, "postgres")
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Server is a fully wired API server and the resources it owns.
type Server struct {
	Store    *jobs.SQLStore
	Manager  *jobs.Manager
	Pipeline *pipeline.Service
	Handler  *api.Server
}

// NewServer wires the store, optional mirrors, the job manager, the deploy
// service and the HTTP handlers. Call Start on the manager before serving.
func NewServer(ctx context.Context, cfg *config.Config, logger *observability.Logger, reg *prometheus.Registry) (*Server, error) {
	metrics := NewMetrics(cfg, reg)

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []jobs.Option{
		jobs.WithWorkers(cfg.Jobs.Workers),
		jobs.WithQueueSize(cfg.Jobs.QueueSize),
		jobs.WithJobTimeout(cfg.Jobs.JobTimeout),
		jobs.WithOutputDir(cfg.Processing.OutputDir),
		jobs.WithRemoveUploads(),
		jobs.WithLogger(logger),
		jobs.WithMetrics(metrics),
	}
	if cfg.Cache.Driver == "redis" {
		mirror, err := jobs.NewRedisMirror(ctx, jobs.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			TTL:      cfg.Cache.Redis.TTL,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		opts = append(opts, jobs.WithMirror(mirror))
	}
	if cfg.Notify.AMQPURL != "" {
		notifier, err := jobs.NewAMQPNotifier(jobs.AMQPConfig{
			URL:        cfg.Notify.AMQPURL,
			Exchange:   cfg.Notify.Exchange,
			RoutingKey: cfg.Notify.RoutingKey,
		})
		if err != nil {
			// Notifications are best effort; the service runs without them.
			logger.Warn().Err(err).Msg("AMQP notifier unavailable, job events disabled")
		} else {
			opts = append(opts, jobs.WithNotifier(notifier))
		}
	}

	proc := NewPipeline(cfg, logger, metrics)
	manager := jobs.NewManager(store, proc, opts...)

	deployer := deploy.NewService(deploy.Config{
		S3Endpoint:     cfg.Deploy.S3Endpoint,
		S3Region:       cfg.Deploy.S3Region,
		S3Insecure:     cfg.Deploy.S3Insecure,
		KnownHostsPath: cfg.Deploy.KnownHostsPath,
		HTTPTimeout:    cfg.Deploy.HTTPTimeout,
	}, deploy.WithLogger(logger), deploy.WithMetrics(metrics))

	apiOpts := []api.Option{api.WithLogger(logger)}
	if metrics != nil {
		apiOpts = append(apiOpts, api.WithMetricsGatherer(reg))
	}
	handler := api.NewServer(api.Config{
		UploadDir:      cfg.Processing.UploadDir,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		Defaults:       DefaultJobConfig(cfg),
	}, manager, deployer, apiOpts...)

	return &Server{Store: store, Manager: manager, Pipeline: proc, Handler: handler}, nil
}

// Close shuts the manager down and closes the store.
func (s *Server) Close(ctx context.Context) error {
	err := s.Manager.Shutdown(ctx)
	if cerr := s.Store.Close(); err == nil {
		err = cerr
	}
	return err
}

// ShutdownTimeout returns cfg's shutdown timeout with a floor.
func ShutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout <= 0 {
		return 15 * time.Second
	}
	return cfg.Server.ShutdownTimeout
}
