// Package jobs runs processing jobs in the background: a durable Store, a
// worker pool Manager, and a progress Hub that fans snapshots out to
// subscribers.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// Common errors
var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrNotCompleted      = errors.New("job is not completed")
	ErrShuttingDown      = errors.New("job manager is shutting down")
	ErrQueueFull         = errors.New("job queue is full")
)

// interruptedMessage is recorded on jobs that were live when the server stopped.
const interruptedMessage = "Interrupted by server restart"

// timeLayout is fixed width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists jobs.
type Store interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	// List returns every job, newest first.
	List(ctx context.Context) ([]*domain.Job, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error
	UpdateProgress(ctx context.Context, id string, p domain.JobProgress) error
	Complete(ctx context.Context, id string, result *domain.JobResult, p *domain.JobProgress) error
	// Fail marks the job failed. A nil progress keeps the stored one.
	Fail(ctx context.Context, id, code, message string, p *domain.JobProgress) error
	Delete(ctx context.Context, id string) error
	// FailInterrupted fails every pending or processing job and returns how
	// many were changed.
	FailInterrupted(ctx context.Context) (int64, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	filename   TEXT NOT NULL,
	status     TEXT NOT NULL,
	config     TEXT NOT NULL,
	progress   TEXT,
	result     TEXT,
	error      TEXT NOT NULL DEFAULT '',
	error_code TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

const jobColumns = `id, filename, status, config, progress, result, error, error_code, created_at, updated_at`

// SQLStore is a Store over database/sql. Queries use $N placeholders, which
// both the sqlite3 and postgres drivers accept.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// OpenSQLStore opens driver ("sqlite3" or "postgres") at dsn and creates the
// schema. SQLite runs in WAL mode on a single connection.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
	case "postgres", "postgresql":
		driver = "postgres"
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unsupported database driver %q", driver), nil)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, domain.StorageError("failed to open job database", err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	s, err := NewSQLStore(ctx, db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and creates the schema.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, domain.StorageError("job database unreachable", err)
	}
	if driver == "sqlite3" {
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			return nil, domain.StorageError("failed to enable WAL", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, domain.StorageError("failed to create jobs table", err)
	}
	return &SQLStore{db: db, driver: driver, now: time.Now}, nil
}

func (s *SQLStore) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

// Create inserts a new job.
func (s *SQLStore) Create(ctx context.Context, job *domain.Job) error {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return domain.InternalError("failed to encode job config", err)
	}
	progress, err := encodeOptional(job.Progress)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (id, filename, status, config, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID, job.Filename, string(job.Status), string(config), progress,
		job.CreatedAt.UTC().Format(timeLayout), job.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return domain.StorageError("failed to insert job", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageError("failed to load job", err)
	}
	return job, nil
}

// List returns all jobs, newest first.
func (s *SQLStore) List(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, domain.StorageError("failed to list jobs", err)
	}
	defer rows.Close()

	jobs := []*domain.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, domain.StorageError("failed to read job row", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("failed to list jobs", err)
	}
	return jobs, nil
}

// UpdateStatus sets the job's status.
func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error {
	return s.exec(ctx, "update job status",
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), s.stamp(), id)
}

// UpdateProgress stores the latest progress snapshot.
func (s *SQLStore) UpdateProgress(ctx context.Context, id string, p domain.JobProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return domain.InternalError("failed to encode progress", err)
	}
	return s.exec(ctx, "update job progress",
		`UPDATE jobs SET progress = $1, updated_at = $2 WHERE id = $3`,
		string(data), s.stamp(), id)
}

// Complete marks the job completed with its result.
func (s *SQLStore) Complete(ctx context.Context, id string, result *domain.JobResult, p *domain.JobProgress) error {
	data, err := json.Marshal(result)
	if err != nil {
		return domain.InternalError("failed to encode result", err)
	}
	progress, err := encodeOptional(p)
	if err != nil {
		return err
	}
	return s.exec(ctx, "complete job",
		`UPDATE jobs SET status = $1, result = $2, progress = COALESCE($3, progress), updated_at = $4 WHERE id = $5`,
		string(domain.StatusCompleted), string(data), progress, s.stamp(), id)
}

// Fail marks the job failed with an error code and message.
func (s *SQLStore) Fail(ctx context.Context, id, code, message string, p *domain.JobProgress) error {
	progress, err := encodeOptional(p)
	if err != nil {
		return err
	}
	return s.exec(ctx, "fail job",
		`UPDATE jobs SET status = $1, error = $2, error_code = $3, progress = COALESCE($4, progress), updated_at = $5 WHERE id = $6`,
		string(domain.StatusFailed), message, code, progress, s.stamp(), id)
}

// Delete removes a job.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, "delete job", `DELETE FROM jobs WHERE id = $1`, id)
}

// FailInterrupted fails jobs left pending or processing by a previous run.
func (s *SQLStore) FailInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, error = $2, error_code = $3, updated_at = $4 WHERE status IN ($5, $6)`,
		string(domain.StatusFailed), interruptedMessage, domain.CodeInterrupted, s.stamp(),
		string(domain.StatusPending), string(domain.StatusProcessing))
	if err != nil {
		return 0, domain.StorageError("failed to recover interrupted jobs", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.StorageError("failed to "+op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.StorageError("failed to "+op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(sc scanner) (*domain.Job, error) {
	var (
		job                  domain.Job
		status, config       string
		progress, result     sql.NullString
		createdAt, updatedAt string
	)
	if err := sc.Scan(&job.ID, &job.Filename, &status, &config, &progress, &result,
		&job.Error, &job.ErrorCode, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if err := json.Unmarshal([]byte(config), &job.Config); err != nil {
		return nil, fmt.Errorf("decode config of job %s: %w", job.ID, err)
	}
	if progress.Valid && progress.String != "" {
		job.Progress = &domain.JobProgress{}
		if err := json.Unmarshal([]byte(progress.String), job.Progress); err != nil {
			return nil, fmt.Errorf("decode progress of job %s: %w", job.ID, err)
		}
	}
	if result.Valid && result.String != "" {
		job.Result = &domain.JobResult{}
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			return nil, fmt.Errorf("decode result of job %s: %w", job.ID, err)
		}
	}
	job.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	job.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &job, nil
}

// encodeOptional returns the JSON text of v, or nil when v is nil.
func encodeOptional[T any](v *T) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, domain.InternalError("failed to encode job field", err)
	}
	return string(data), nil
}
