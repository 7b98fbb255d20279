package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/pipeline"
)

type processFunc func(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error)

type fakeProcessor struct {
	mu    sync.Mutex
	calls []pipeline.Request
	fn    processFunc
}

func (p *fakeProcessor) Process(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	return p.fn(ctx, req, sink)
}

func (p *fakeProcessor) called() []pipeline.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pipeline.Request(nil), p.calls...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []JobEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev JobEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) all() []JobEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]JobEvent(nil), n.events...)
}

type recordingMirror struct {
	mu   sync.Mutex
	last map[string]domain.JobProgress
	fail bool
}

func (m *recordingMirror) Mirror(_ context.Context, id string, p domain.JobProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("mirror down")
	}
	if m.last == nil {
		m.last = map[string]domain.JobProgress{}
	}
	m.last[id] = p
	return nil
}

func (m *recordingMirror) Close() error { return nil }

func (m *recordingMirror) get(id string) (domain.JobProgress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.last[id]
	return p, ok
}

func newTestManager(t *testing.T, fn processFunc, opts ...Option) (*Manager, *fakeProcessor) {
	t.Helper()
	proc := &fakeProcessor{fn: fn}
	opts = append([]Option{WithOutputDir(t.TempDir())}, opts...)
	m := NewManager(newSQLiteStore(t), proc, opts...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, proc
}

func waitForStatus(t *testing.T, m *Manager, id string, status domain.JobStatus) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Get(context.Background(), id)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func textOnly() domain.JobConfig {
	return domain.JobConfig{TextOnly: true}
}

func succeed(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error) {
	for n := 1; n <= 3; n++ {
		sink.Report(domain.JobProgress{CurrentPage: n, TotalPages: 3, Phase: domain.PhaseExtracting})
	}
	sink.Report(domain.JobProgress{CurrentPage: 3, TotalPages: 3, Phase: domain.PhaseComplete})
	return &domain.JobResult{Markdown: "# doc\n", ImageCount: 2, OutputDir: req.OutputDir}, nil
}

func TestManager_CompletesJob(t *testing.T) {
	notifier := &recordingNotifier{}
	mirror := &recordingMirror{}
	m, proc := newTestManager(t, succeed, WithNotifier(notifier), WithMirror(mirror))
	ctx := context.Background()

	job, err := m.Submit(ctx, "manual.pdf", "/tmp/manual.pdf", textOnly())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.LanguageThai, job.Config.Language, "config is normalized at submission")

	done := waitForStatus(t, m, job.ID, domain.StatusCompleted)
	require.NotNil(t, done.Result)
	assert.Equal(t, 2, done.Result.ImageCount)
	require.NotNil(t, done.Progress)
	assert.Equal(t, domain.PhaseComplete, done.Progress.Phase)

	calls := proc.called()
	require.Len(t, calls, 1)
	assert.Equal(t, "manual.pdf", calls[0].Filename)
	assert.Equal(t, m.JobDir(job.ID), calls[0].OutputDir)
	assert.True(t, calls[0].Config.TextOnly)

	withResult, err := m.Result(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "# doc\n", withResult.Result.Markdown)

	require.Eventually(t, func() bool { return len(notifier.all()) == 1 }, time.Second, 10*time.Millisecond)
	ev := notifier.all()[0]
	assert.Equal(t, job.ID, ev.JobID)
	assert.Equal(t, domain.StatusCompleted, ev.Status)
	assert.Equal(t, 2, ev.ImageCount)

	require.Eventually(t, func() bool {
		p, ok := mirror.get(job.ID)
		return ok && p.Phase == domain.PhaseComplete
	}, time.Second, 10*time.Millisecond)
}

func TestManager_CancelRetainsProgress(t *testing.T) {
	reached := make(chan struct{})
	m, _ := newTestManager(t, func(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error) {
		for n := 1; n <= 10; n++ {
			sink.Report(domain.JobProgress{CurrentPage: n, TotalPages: 10, Phase: domain.PhaseExtracting})
			if n == 5 {
				close(reached)
				<-ctx.Done()
				return nil, domain.CancellationError("job cancelled", ctx.Err())
			}
		}
		return &domain.JobResult{}, nil
	})
	ctx := context.Background()

	job, err := m.Submit(ctx, "manual.pdf", "/tmp/manual.pdf", textOnly())
	require.NoError(t, err)
	<-reached
	require.NoError(t, m.Cancel(ctx, job.ID))

	failed := waitForStatus(t, m, job.ID, domain.StatusFailed)
	assert.Equal(t, domain.CodeCancelled, failed.ErrorCode)
	require.NotNil(t, failed.Progress)
	assert.Equal(t, 5, failed.Progress.CurrentPage)
	assert.Equal(t, domain.PhaseError, failed.Progress.Phase)

	_, err = m.Result(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotCompleted)

	// cancelling a terminal job is a no-op
	require.NoError(t, m.Cancel(ctx, job.ID))
	again, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CodeCancelled, again.ErrorCode)
}

func TestManager_ErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"auth", domain.ProviderAuthError("ollama: API returned status 401", nil), domain.CodeProviderAuth},
		{"transient", domain.ProviderTransientError("ollama: request failed after 3 retries", nil), domain.CodeProviderTransient},
		{"input", domain.InputError("file does not look like a PDF", nil), domain.CodeInputError},
		{"unknown", errors.New("boom"), domain.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, func(context.Context, pipeline.Request, domain.ProgressSink) (*domain.JobResult, error) {
				return nil, tt.err
			})
			job, err := m.Submit(context.Background(), "doc.pdf", "/tmp/doc.pdf", textOnly())
			require.NoError(t, err)

			failed := waitForStatus(t, m, job.ID, domain.StatusFailed)
			assert.Equal(t, tt.code, failed.ErrorCode)
			assert.Contains(t, failed.Error, tt.err.Error())
		})
	}
}

func TestManager_CancelPendingJob(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)
	m, proc := newTestManager(t, func(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error) {
		started <- req.Filename
		<-release
		return &domain.JobResult{}, nil
	}, WithWorkers(1))
	ctx := context.Background()

	first, err := m.Submit(ctx, "first.pdf", "/tmp/first.pdf", textOnly())
	require.NoError(t, err)
	assert.Equal(t, "first.pdf", <-started)

	second, err := m.Submit(ctx, "second.pdf", "/tmp/second.pdf", textOnly())
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, second.ID))
	close(release)

	waitForStatus(t, m, first.ID, domain.StatusCompleted)
	failed := waitForStatus(t, m, second.ID, domain.StatusFailed)
	assert.Equal(t, domain.CodeCancelled, failed.ErrorCode)
	assert.Len(t, proc.called(), 1, "a cancelled pending job never runs")
}

func TestManager_Subscribe(t *testing.T) {
	step := make(chan struct{})
	m, _ := newTestManager(t, func(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error) {
		<-step
		sink.Report(domain.JobProgress{CurrentPage: 1, TotalPages: 1, Phase: domain.PhaseExtracting})
		<-step
		sink.Report(domain.JobProgress{CurrentPage: 1, TotalPages: 1, Phase: domain.PhaseComplete})
		return &domain.JobResult{}, nil
	})
	ctx := context.Background()

	job, err := m.Submit(ctx, "doc.pdf", "/tmp/doc.pdf", textOnly())
	require.NoError(t, err)

	ch, unsubscribe, err := m.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	defer unsubscribe()
	assert.Equal(t, domain.PhaseQueued, (<-ch).Phase, "latest snapshot first")

	step <- struct{}{}
	assert.Equal(t, domain.PhaseExtracting, (<-ch).Phase)
	step <- struct{}{}

	var phases []string
	for p := range ch {
		phases = append(phases, p.Phase)
	}
	assert.Equal(t, domain.PhaseComplete, phases[len(phases)-1])

	// a finished job yields its final snapshot and a closed channel
	waitForStatus(t, m, job.ID, domain.StatusCompleted)
	ch, _, err = m.Subscribe(ctx, job.ID)
	require.NoError(t, err)
	p, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, domain.PhaseComplete, p.Phase)
	_, ok = <-ch
	assert.False(t, ok)

	_, _, err = m.Subscribe(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// cancellingStore cancels a job from inside the processing transition and
// rejects writes on a done context the way database/sql does.
type cancellingStore struct {
	*SQLStore
	cancel func(id string)
}

func (s *cancellingStore) UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error {
	if status == domain.StatusProcessing && s.cancel != nil {
		s.cancel(id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.SQLStore.UpdateStatus(ctx, id, status)
}

func TestManager_CancelDuringStartIsCancelled(t *testing.T) {
	store := &cancellingStore{SQLStore: newSQLiteStore(t)}
	proc := &fakeProcessor{fn: func(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return succeed(ctx, req, sink)
	}}
	m := NewManager(store, proc, WithOutputDir(t.TempDir()), WithWorkers(1))
	store.cancel = func(id string) {
		assert.NoError(t, m.Cancel(context.Background(), id))
	}
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})

	job, err := m.Submit(context.Background(), "manual.pdf", "/tmp/manual.pdf", textOnly())
	require.NoError(t, err)

	failed := waitForStatus(t, m, job.ID, domain.StatusFailed)
	assert.Equal(t, domain.CodeCancelled, failed.ErrorCode)
}

// laggingStore never persists progress snapshots.
type laggingStore struct {
	*SQLStore
}

func (s *laggingStore) UpdateProgress(context.Context, string, domain.JobProgress) error {
	return nil
}

func TestManager_GetShowsLiveProgress(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	proc := &fakeProcessor{fn: func(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error) {
		sink.Report(domain.JobProgress{CurrentPage: 2, TotalPages: 5, Phase: domain.PhaseDescribing})
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}}
	m := NewManager(&laggingStore{SQLStore: newSQLiteStore(t)}, proc, WithOutputDir(t.TempDir()))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})

	job, err := m.Submit(context.Background(), "manual.pdf", "/tmp/manual.pdf", textOnly())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(context.Background(), job.ID)
		return err == nil && got.Progress != nil && got.Progress.CurrentPage == 2
	}, 5*time.Second, 10*time.Millisecond)

	got, err := m.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	assert.Equal(t, domain.PhaseDescribing, got.Progress.Phase)
	assert.Equal(t, 5, got.Progress.TotalPages)
}

func TestManager_DeleteRunningJob(t *testing.T) {
	running := make(chan struct{})
	m, _ := newTestManager(t, func(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error) {
		if err := os.MkdirAll(filepath.Join(req.OutputDir, "images"), 0o755); err != nil {
			return nil, err
		}
		close(running)
		<-ctx.Done()
		return nil, domain.CancellationError("job cancelled", ctx.Err())
	})
	ctx := context.Background()

	job, err := m.Submit(ctx, "doc.pdf", "/tmp/doc.pdf", textOnly())
	require.NoError(t, err)
	<-running
	assert.DirExists(t, m.JobDir(job.ID))

	require.NoError(t, m.Delete(ctx, job.ID))
	_, err = m.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoDirExists(t, m.JobDir(job.ID))
	assert.ErrorIs(t, m.Delete(ctx, job.ID), ErrNotFound)
}

func TestManager_StartFailsInterruptedJobs(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	require.NoError(t, store.Create(ctx, newJob("stale", time.Now())))

	m := NewManager(store, &fakeProcessor{fn: succeed}, WithOutputDir(t.TempDir()))
	require.NoError(t, m.Start(ctx))
	defer m.Shutdown(ctx)

	job, err := m.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, domain.CodeInterrupted, job.ErrorCode)
}

func TestManager_ShutdownInterruptsRunningJobs(t *testing.T) {
	running := make(chan struct{})
	proc := &fakeProcessor{fn: func(ctx context.Context, req pipeline.Request, sink domain.ProgressSink) (*domain.JobResult, error) {
		close(running)
		<-ctx.Done()
		return nil, domain.CancellationError("job cancelled", ctx.Err())
	}}
	store := newSQLiteStore(t)
	m := NewManager(store, proc, WithOutputDir(t.TempDir()))
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	job, err := m.Submit(ctx, "doc.pdf", "/tmp/doc.pdf", textOnly())
	require.NoError(t, err)
	<-running

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	failed, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, domain.CodeInterrupted, failed.ErrorCode)

	_, err = m.Submit(ctx, "late.pdf", "/tmp/late.pdf", textOnly())
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestManager_RejectsInvalidConfig(t *testing.T) {
	m, _ := newTestManager(t, succeed)
	_, err := m.Submit(context.Background(), "doc.pdf", "/tmp/doc.pdf", domain.JobConfig{Language: "fr", TextOnly: true})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	jobs, err := m.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestManager_RemovesUploads(t *testing.T) {
	m, _ := newTestManager(t, succeed, WithRemoveUploads())
	upload := filepath.Join(t.TempDir(), "upload.pdf")
	require.NoError(t, os.WriteFile(upload, []byte("%PDF-1.7"), 0o644))

	job, err := m.Submit(context.Background(), "upload.pdf", upload, textOnly())
	require.NoError(t, err)
	waitForStatus(t, m, job.ID, domain.StatusCompleted)
	require.Eventually(t, func() bool {
		_, err := os.Stat(upload)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestManager_MirrorFailureDoesNotFailJob(t *testing.T) {
	m, _ := newTestManager(t, succeed, WithMirror(&recordingMirror{fail: true}))
	job, err := m.Submit(context.Background(), "doc.pdf", "/tmp/doc.pdf", textOnly())
	require.NoError(t, err)
	waitForStatus(t, m, job.ID, domain.StatusCompleted)
}

func TestManager_Transition(t *testing.T) {
	m, _ := newTestManager(t, succeed)
	aj := &activeJob{id: "x", status: domain.StatusCompleted}
	err := m.transition(context.Background(), aj, domain.StatusProcessing)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, domain.StatusCompleted, aj.status)

	assert.True(t, domain.StatusPending.CanTransition(domain.StatusProcessing))
	assert.False(t, domain.StatusPending.CanTransition(domain.StatusCompleted))
	assert.False(t, domain.StatusFailed.CanTransition(domain.StatusProcessing))
}
