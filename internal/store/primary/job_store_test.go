package primary

import (
	"context"
	"os"
	"testing"
	"time"

	"harvest/internal/models"
	"harvest/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore connects to the database named by DATABASE_URL. Tests
// touch only the rows they create.
func setupTestStore(t *testing.T) *StoreImpl {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL store tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := NewPrimaryStore(ctx, dsn, PoolOptions{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createJob(t *testing.T, s *StoreImpl) *models.Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), store.CreateJobParams{
		Source:      models.SourceWeb,
		SourceURL:   "https://example.com/" + uuid.NewString(),
		CallbackURL: "https://hooks.example.com/done",
		Options:     []byte(`{"wait_timeout": 1000}`),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Exec(context.Background(), `DELETE FROM extraction_jobs WHERE id = $1`, job.ID)
	})
	return job
}

func TestPrimary_CreateAndGetJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := createJob(t, s)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.JSONEq(t, `{"wait_timeout": 1000}`, string(got.Options))
	assert.Nil(t, got.CompletedAt)

	_, err = s.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPrimary_UpdateJobStatusUsesPredecessors(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := createJob(t, s)

	got, err := s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)

	_, err = s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.UpdateJobStatus(ctx, uuid.New(), models.StatusProcessing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPrimary_TerminalWrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	done := createJob(t, s)
	failed := createJob(t, s)

	_, err := s.SetJobResult(ctx, done.ID, &models.ExtractedDocument{Content: "hi"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.UpdateJobStatus(ctx, done.ID, models.StatusProcessing)
	require.NoError(t, err)
	got, err := s.SetJobResult(ctx, done.ID, &models.ExtractedDocument{Source: models.SourceWeb, Content: "hi", ContentType: models.ContentText})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "hi", got.Result.Content)
	assert.NotNil(t, got.CompletedAt)

	_, err = s.UpdateJobStatus(ctx, failed.ID, models.StatusProcessing)
	require.NoError(t, err)
	got, err = s.SetJobError(ctx, failed.ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)

	_, err = s.SetJobError(ctx, done.ID, "late")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestPrimary_ListJobsFiltersByStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	pending := createJob(t, s)
	processing := createJob(t, s)
	_, err := s.UpdateJobStatus(ctx, processing.ID, models.StatusProcessing)
	require.NoError(t, err)

	status := models.StatusProcessing
	jobs, total, err := s.ListJobs(ctx, store.ListJobsParams{Status: &status, Limit: store.MaxListLimit})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)

	var ids []uuid.UUID
	for _, j := range jobs {
		assert.Equal(t, models.StatusProcessing, j.Status)
		ids = append(ids, j.ID)
	}
	assert.Contains(t, ids, processing.ID)
	assert.NotContains(t, ids, pending.ID)
}

func TestPrimary_DeleteJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := createJob(t, s)

	_, err := s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
	require.NoError(t, err)
	assert.ErrorIs(t, s.DeleteJob(ctx, job.ID), store.ErrConflict)

	_, err = s.SetJobError(ctx, job.ID, "boom")
	require.NoError(t, err)
	require.NoError(t, s.DeleteJob(ctx, job.ID))

	_, err = s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteJob(ctx, job.ID), store.ErrNotFound)
}
