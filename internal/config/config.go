// Package config provides unified configuration loading for the enricher.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the enricher.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Vision        VisionConfig        `yaml:"vision"`
	Processing    ProcessingConfig    `yaml:"processing"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Notify        NotifyConfig        `yaml:"notify"`
	Deploy        DeployConfig        `yaml:"deploy"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadMB     int64         `yaml:"max_upload_mb"`
}

// DatabaseConfig holds job store settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `yaml:"path"`
	JournalMode string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig selects where job progress is mirrored.
type CacheConfig struct {
	Driver string      `yaml:"driver"` // memory or redis
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// VisionConfig holds provider call settings.
type VisionConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	MaxConcurrency    int           `yaml:"max_concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ProcessingConfig holds pipeline defaults.
type ProcessingConfig struct {
	DPI             float64 `yaml:"dpi"`
	MinImageSize    int     `yaml:"min_image_size"`
	Threshold       float64 `yaml:"threshold"`
	Language        string  `yaml:"language"`
	TableExtraction bool    `yaml:"table_extraction"`
	DetectTrash     bool    `yaml:"detect_trash"`
	OutputDir       string  `yaml:"output_dir"`
	UploadDir       string  `yaml:"upload_dir"`
}

// JobsConfig holds worker pool settings.
type JobsConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// NotifyConfig holds the optional AMQP job event publisher settings.
type NotifyConfig struct {
	AMQPURL    string `yaml:"amqp_url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

// DeployConfig holds defaults for deploy targets.
type DeployConfig struct {
	S3Endpoint     string        `yaml:"s3_endpoint"`
	S3Region       string        `yaml:"s3_region"`
	S3Insecure     bool          `yaml:"s3_insecure"`
	KnownHostsPath string        `yaml:"known_hosts_path"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadMB:     200,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:        "./data/jobs.db",
				JournalMode: "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				TTL:  24 * time.Hour,
			},
		},
		Vision: VisionConfig{
			Provider:       "ollama",
			MaxConcurrency: 3,
			MaxRetries:     3,
			RetryDelay:     2 * time.Second,
			Timeout:        120 * time.Second,
		},
		Processing: ProcessingConfig{
			DPI:             150,
			MinImageSize:    100,
			Threshold:       0.5,
			Language:        "th",
			TableExtraction: true,
			DetectTrash:     true,
			OutputDir:       "./output",
			UploadDir:       "./uploads",
		},
		Jobs: JobsConfig{
			Workers:    2,
			QueueSize:  64,
			JobTimeout: 2 * time.Hour,
		},
		Notify: NotifyConfig{
			Exchange:   "pdf-enricher",
			RoutingKey: "jobs.terminal",
		},
		Deploy: DeployConfig{
			S3Endpoint:  "s3.amazonaws.com",
			HTTPTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires a dsn")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Vision.MaxConcurrency < 1 {
		return fmt.Errorf("vision.max_concurrency must be >= 1")
	}

	if c.Vision.MaxRetries < 0 {
		return fmt.Errorf("vision.max_retries must be >= 0")
	}

	if c.Processing.Threshold <= 0 || c.Processing.Threshold > 1 {
		return fmt.Errorf("processing.threshold must be in (0, 1]")
	}

	if c.Processing.DPI < 36 || c.Processing.DPI > 600 {
		return fmt.Errorf("processing.dpi must be between 36 and 600")
	}

	if c.Processing.Language != "th" && c.Processing.Language != "en" {
		return fmt.Errorf("invalid processing language: %s", c.Processing.Language)
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be >= 1")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("VISION_PROVIDER"); v != "" {
		cfg.Vision.Provider = v
	}

	if v := os.Getenv("VISION_MODEL"); v != "" {
		cfg.Vision.Model = v
	}

	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.Processing.OutputDir = v
	}

	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Notify.AMQPURL = v
	}

	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Deploy.S3Endpoint = v
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Deploy.S3Region = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
