package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf-enricher/internal/domain"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore(context.Background(), "sqlite", filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(id string, created time.Time) *domain.Job {
	start := 2
	return &domain.Job{
		ID:       id,
		Filename: "manual.pdf",
		Status:   domain.StatusPending,
		Config: domain.JobConfig{
			Provider:  "ollama",
			Language:  domain.LanguageThai,
			StartPage: &start,
			Quality:   domain.QualityStandard,
			Storage:   "local",
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// exerciseStore runs the Store contract against s.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, newJob("job-a", base)))
	require.NoError(t, s.Create(ctx, newJob("job-b", base.Add(time.Second))))

	job, err := s.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, "manual.pdf", job.Filename)
	assert.Equal(t, domain.StatusPending, job.Status)
	require.NotNil(t, job.Config.StartPage)
	assert.Equal(t, 2, *job.Config.StartPage)
	assert.Nil(t, job.Progress)
	assert.Nil(t, job.Result)
	assert.True(t, base.Equal(job.CreatedAt))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "job-b", list[0].ID, "newest first")

	require.NoError(t, s.UpdateStatus(ctx, "job-a", domain.StatusProcessing))
	require.NoError(t, s.UpdateProgress(ctx, "job-a", domain.JobProgress{CurrentPage: 5, TotalPages: 10, Phase: domain.PhaseExtracting}))

	job, err = s.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, job.Status)
	require.NotNil(t, job.Progress)
	assert.Equal(t, 5, job.Progress.CurrentPage)

	// nil progress keeps the stored snapshot
	require.NoError(t, s.Fail(ctx, "job-a", domain.CodeCancelled, "job cancelled", nil))
	job, err = s.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, domain.CodeCancelled, job.ErrorCode)
	assert.Equal(t, "job cancelled", job.Error)
	assert.Equal(t, 5, job.Progress.CurrentPage)

	result := &domain.JobResult{Markdown: "# doc\n", ImageCount: 3, Images: []domain.ImageMetadataRecord{}, Trash: []domain.TrashDetection{}}
	done := domain.JobProgress{CurrentPage: 10, TotalPages: 10, Phase: domain.PhaseComplete}
	require.NoError(t, s.Complete(ctx, "job-b", result, &done))
	job, err = s.Get(ctx, "job-b")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, 3, job.Result.ImageCount)
	assert.Equal(t, domain.PhaseComplete, job.Progress.Phase)

	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", domain.StatusFailed), ErrNotFound)
	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "job-a"))
	_, err = s.Get(ctx, "job-a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "job-a"), ErrNotFound)
}

func TestSQLStore_SQLite(t *testing.T) {
	exerciseStore(t, newSQLiteStore(t))
}

func TestSQLStore_FailInterrupted(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	now := time.Now()

	for _, id := range []string{"pending", "processing", "completed"} {
		require.NoError(t, s.Create(ctx, newJob(id, now)))
	}
	require.NoError(t, s.UpdateStatus(ctx, "processing", domain.StatusProcessing))
	require.NoError(t, s.Complete(ctx, "completed", &domain.JobResult{}, nil))

	n, err := s.FailInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []string{"pending", "processing"} {
		job, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, job.Status)
		assert.Equal(t, domain.CodeInterrupted, job.ErrorCode)
		assert.Equal(t, "Interrupted by server restart", job.Error)
	}
	job, err := s.Get(ctx, "completed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
}

func TestSQLStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := OpenSQLStore(ctx, "sqlite3", path)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, newJob("kept", time.Now())))
	require.NoError(t, s.Close())

	s, err = OpenSQLStore(ctx, "sqlite3", path)
	require.NoError(t, err)
	defer s.Close()
	job, err := s.Get(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, "kept", job.ID)
}

func TestOpenSQLStore_UnknownDriver(t *testing.T) {
	_, err := OpenSQLStore(context.Background(), "oracle", "")
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}
