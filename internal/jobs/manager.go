package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/observability"
	"github.com/spherical/pdf-enricher/internal/pipeline"
)

// Processor runs one document through the pipeline.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error)
}

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// storeTimeout bounds store writes made on behalf of a finished job.
const storeTimeout = 10 * time.Second

// Manager owns the job lifecycle. Each job is written only by the worker
// that runs it; other callers read through the Store and signal through
// Cancel.
type Manager struct {
	store      Store
	processor  Processor
	hub        *Hub
	outputDir  string
	workers    int
	queueSize  int
	jobTimeout time.Duration
	removePDF  bool
	mirror     ProgressMirror
	notifier   Notifier
	logger     *observability.Logger
	metrics    *observability.Metrics

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	active   map[string]*activeJob
	started  bool
	shutdown bool
}

// activeJob is the in-memory state of a pending or running job.
type activeJob struct {
	id       string
	filename string
	pdfPath  string
	config   domain.JobConfig
	status   domain.JobStatus

	cancelled atomic.Bool
	cancelRun context.CancelFunc
	done      chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithWorkers sets how many jobs run at once.
func WithWorkers(n int) Option {
	return func(m *Manager) { m.workers = n }
}

// WithQueueSize bounds how many jobs may wait.
func WithQueueSize(n int) Option {
	return func(m *Manager) { m.queueSize = n }
}

// WithJobTimeout fails jobs that run longer than d.
func WithJobTimeout(d time.Duration) Option {
	return func(m *Manager) { m.jobTimeout = d }
}

// WithOutputDir sets the root under which each job gets {root}/{job id}.
func WithOutputDir(dir string) Option {
	return func(m *Manager) { m.outputDir = dir }
}

// WithRemoveUploads deletes a job's source PDF once it reaches a terminal
// state. Used when PDFs are temporary uploads.
func WithRemoveUploads() Option {
	return func(m *Manager) { m.removePDF = true }
}

func WithMirror(mirror ProgressMirror) Option {
	return func(m *Manager) { m.mirror = mirror }
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a manager. Call Start before submitting jobs.
func NewManager(store Store, processor Processor, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		processor: processor,
		hub:       NewHub(),
		outputDir: "./output",
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		logger:    observability.Nop(),
		active:    make(map[string]*activeJob),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.workers <= 0 {
		m.workers = defaultWorkers
	}
	if m.queueSize <= 0 {
		m.queueSize = defaultQueueSize
	}
	m.queue = make(chan string, m.queueSize)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start fails jobs a previous process left unfinished and starts the workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if m.shutdown {
		return ErrShuttingDown
	}

	n, err := m.store.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Warn().Int("jobs", int(n)).Msg("Marked interrupted jobs as failed")
	}

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.started = true
	m.logger.Info().Int("workers", m.workers).Int("queue_size", m.queueSize).Msg("Job manager started")
	return nil
}

// JobDir is where a job's outputs are written.
func (m *Manager) JobDir(id string) string {
	return filepath.Join(m.outputDir, id)
}

// Submit records a pending job for the PDF at pdfPath and queues it.
func (m *Manager) Submit(ctx context.Context, filename, pdfPath string, cfg domain.JobConfig) (*domain.Job, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		Status:    domain.StatusPending,
		Config:    cfg,
		Progress:  &domain.JobProgress{Phase: domain.PhaseQueued, Message: "Waiting for a worker"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return nil, ErrShuttingDown
	}
	if err := m.store.Create(ctx, job); err != nil {
		return nil, err
	}

	aj := &activeJob{
		id:       job.ID,
		filename: filename,
		pdfPath:  pdfPath,
		config:   cfg,
		status:   domain.StatusPending,
		done:     make(chan struct{}),
	}
	select {
	case m.queue <- job.ID:
	default:
		if err := m.store.Fail(ctx, job.ID, domain.CodeInternal, ErrQueueFull.Error(), nil); err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record rejected job")
		}
		return nil, ErrQueueFull
	}
	m.active[job.ID] = aj
	m.hub.Open(job.ID)
	m.hub.Publish(job.ID, *job.Progress)

	m.logger.Info().Str("job_id", job.ID).Str("file", filename).Msg("Job submitted")
	return job, nil
}

// Get returns a job. A running job carries its newest progress snapshot.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// The persisted snapshot can trail the live one while the job runs.
	if !job.Status.IsTerminal() {
		if p, ok := m.hub.Latest(id); ok {
			job.Progress = &p
		}
	}
	return job, nil
}

// List returns all jobs, newest first.
func (m *Manager) List(ctx context.Context) ([]*domain.Job, error) {
	return m.store.List(ctx)
}

// Result returns the result of a completed job.
func (m *Manager) Result(ctx context.Context, id string) (*domain.Job, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusCompleted || job.Result == nil {
		return job, fmt.Errorf("%w (status: %s)", ErrNotCompleted, job.Status)
	}
	return job, nil
}

// Cancel asks a pending or running job to stop. Terminal jobs are left as
// they are.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	m.mu.Lock()
	aj := m.active[id]
	m.mu.Unlock()
	if aj == nil {
		return nil
	}
	aj.cancelled.Store(true)
	m.mu.Lock()
	cancelRun := aj.cancelRun
	m.mu.Unlock()
	if cancelRun != nil {
		cancelRun()
	}
	m.logger.Info().Str("job_id", id).Msg("Job cancellation requested")
	return nil
}

// Delete cancels the job if it is live, waits for it to stop, then removes
// its record and its output directory.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, err := m.store.Get(ctx, id); err != nil {
		return err
	}
	if err := m.Cancel(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	aj := m.active[id]
	running := aj != nil && aj.cancelRun != nil
	m.mu.Unlock()
	if running {
		select {
		case <-aj.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
	m.hub.Close(id)

	if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := os.RemoveAll(m.JobDir(id)); err != nil {
		return domain.IOError("failed to remove job output", err)
	}
	m.logger.Info().Str("job_id", id).Msg("Job deleted")
	return nil
}

// Subscribe streams a job's progress. The channel yields the latest snapshot
// first and is closed once the job is terminal. Slow readers skip
// intermediate snapshots.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan domain.JobProgress, func(), error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !job.Status.IsTerminal() {
		if ch, unsubscribe, ok := m.hub.Subscribe(id); ok {
			return ch, unsubscribe, nil
		}
	}

	// terminal, or finished between the lookup and the subscription
	if job, err = m.store.Get(ctx, id); err != nil {
		return nil, nil, err
	}
	ch := make(chan domain.JobProgress, 1)
	if job.Progress != nil {
		ch <- *job.Progress
	}
	close(ch)
	return ch, func() {}, nil
}

// Shutdown stops accepting jobs, cancels running ones and waits for the
// workers. Jobs still queued stay pending and are failed as interrupted on
// the next Start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	m.mu.Unlock()

	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if m.mirror != nil {
		m.mirror.Close()
	}
	if m.notifier != nil {
		m.notifier.Close()
	}
	m.logger.Info().Msg("Job manager stopped")
	return err
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case id := <-m.queue:
			m.mu.Lock()
			aj := m.active[id]
			m.mu.Unlock()
			if aj != nil {
				m.run(aj)
			}
		}
	}
}

func (m *Manager) run(aj *activeJob) {
	defer close(aj.done)
	logger := m.logger.WithJob(aj.id)

	if aj.cancelled.Load() {
		m.finish(aj, nil, domain.CancellationError("job cancelled before start", nil), nil, nil)
		return
	}

	ctx := observability.ContextWithJobID(m.ctx, aj.id)
	var cancel context.CancelFunc
	if m.jobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.jobTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	m.mu.Lock()
	aj.cancelRun = cancel
	m.mu.Unlock()
	// Cancel may have landed before cancelRun was visible
	if aj.cancelled.Load() {
		cancel()
	}

	// The status write must not fail because a cancel already fired.
	startCtx, cancelStart := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	err := m.transition(startCtx, aj, domain.StatusProcessing)
	cancelStart()
	if err != nil {
		if aj.cancelled.Load() {
			m.finish(aj, nil, domain.CancellationError("job cancelled before start", err), nil, nil)
			return
		}
		logger.Error().Err(err).Msg("Failed to start job")
		m.finish(aj, nil, domain.InternalError("failed to start job", err), nil, nil)
		return
	}
	stopGauge := m.metrics.JobStarted()
	defer stopGauge()

	persisted := m.persistProgress(aj.id, logger)

	var last atomic.Pointer[domain.JobProgress]
	sink := domain.ProgressFunc(func(p domain.JobProgress) {
		last.Store(&p)
		m.hub.Publish(aj.id, p)
	})

	logger.Info().Str("file", aj.filename).Msg("Job started")
	result, err := m.processor.Process(ctx, pipeline.Request{
		PDFPath:   aj.pdfPath,
		Filename:  aj.filename,
		Config:    aj.config,
		OutputDir: m.JobDir(aj.id),
	}, sink)

	if err != nil {
		switch {
		case aj.cancelled.Load():
			err = domain.CancellationError("job cancelled", err)
		case m.ctx.Err() != nil:
			err = domain.NewError(domain.ErrorTypeCancelled, "interrupted by shutdown", err)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			err = domain.InternalError(fmt.Sprintf("job exceeded timeout of %s", m.jobTimeout), err)
		}
	}
	m.finish(aj, result, err, last.Load(), persisted)
}

// persistProgress writes the job's snapshots to the store and the mirror
// until the hub closes the job. The returned channel closes when done.
func (m *Manager) persistProgress(id string, logger *observability.Logger) <-chan struct{} {
	done := make(chan struct{})
	ch, _, ok := m.hub.Subscribe(id)
	if !ok {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		for p := range ch {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			if err := m.store.UpdateProgress(ctx, id, p); err != nil && !errors.Is(err, ErrNotFound) {
				logger.Warn().Err(err).Msg("Failed to persist progress")
			}
			if m.mirror != nil {
				if err := m.mirror.Mirror(ctx, id, p); err != nil {
					logger.Warn().Err(err).Msg("Failed to mirror progress")
				}
			}
			cancel()
		}
	}()
	return done
}

func (m *Manager) transition(ctx context.Context, aj *activeJob, next domain.JobStatus) error {
	if !aj.status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, aj.status, next)
	}
	if err := m.store.UpdateStatus(ctx, aj.id, next); err != nil {
		return err
	}
	aj.status = next
	return nil
}

// finish records the terminal state of a job and releases its resources.
// The progress stream is closed and drained first so no snapshot lands in
// the store after the terminal write.
func (m *Manager) finish(aj *activeJob, result *domain.JobResult, runErr error, last *domain.JobProgress, persisted <-chan struct{}) {
	logger := m.logger.WithJob(aj.id)
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if runErr == nil && result == nil {
		runErr = domain.InternalError("processing returned no result", nil)
	}
	if runErr == nil && !aj.status.CanTransition(domain.StatusCompleted) {
		runErr = fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, aj.status, domain.StatusCompleted)
	}

	var code string
	var final *domain.JobProgress
	if runErr != nil {
		code = domain.CodeOf(runErr)
		if m.ctx.Err() != nil && !aj.cancelled.Load() {
			code = domain.CodeInterrupted
		}
		if last != nil {
			p := *last
			p.Phase = domain.PhaseError
			p.Message = runErr.Error()
			final = &p
			m.hub.Publish(aj.id, p)
		}
	}
	m.hub.Close(aj.id)
	if persisted != nil {
		<-persisted
	}

	ev := JobEvent{JobID: aj.id, Filename: aj.filename, At: time.Now().UTC()}
	if runErr == nil {
		if err := m.store.Complete(ctx, aj.id, result, last); err != nil && !errors.Is(err, ErrNotFound) {
			logger.Error().Err(err).Msg("Failed to record job result")
		}
		aj.status = domain.StatusCompleted
		ev.Status = domain.StatusCompleted
		ev.ImageCount = result.ImageCount
		m.metrics.ObserveJob(string(domain.StatusCompleted), "")
		logger.Info().Int("images", result.ImageCount).Int("warnings", len(result.Warnings)).Msg("Job completed")
	} else {
		if err := m.store.Fail(ctx, aj.id, code, runErr.Error(), final); err != nil && !errors.Is(err, ErrNotFound) {
			logger.Error().Err(err).Msg("Failed to record job failure")
		}
		aj.status = domain.StatusFailed
		ev.Status = domain.StatusFailed
		ev.ErrorCode = code
		ev.Error = runErr.Error()
		m.metrics.ObserveJob(string(domain.StatusFailed), code)
		logger.Warn().Err(runErr).Str("code", code).Msg("Job failed")
	}

	m.mu.Lock()
	delete(m.active, aj.id)
	m.mu.Unlock()

	if m.removePDF && aj.pdfPath != "" {
		if err := os.Remove(aj.pdfPath); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("Failed to remove uploaded PDF")
		}
	}
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, ev); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish job event")
		}
	}
}
