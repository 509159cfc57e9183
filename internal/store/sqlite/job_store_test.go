package sqlite

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"harvest/internal/models"
	"harvest/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createJob(t *testing.T, s *Store, target string) *models.Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), store.CreateJobParams{
		Source:      models.SourceWeb,
		SourceURL:   target,
		CallbackURL: "https://hooks.example.com/done",
	})
	require.NoError(t, err)
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, store.CreateJobParams{
		Source:      models.SourcePDF,
		SourceURL:   "https://example.com/report.pdf",
		CallbackURL: "https://hooks.example.com/done",
		Options:     json.RawMessage(`{"extract_tables":false}`),
		FileName:    "report.pdf",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Nil(t, job.CompletedAt)
	assert.False(t, job.CreatedAt.IsZero())

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.SourcePDF, got.Source)
	assert.JSONEq(t, `{"extract_tables":false}`, string(got.Options))
	assert.Equal(t, "report.pdf", got.FileName)
	assert.NoError(t, got.CheckInvariants())
}

func TestGetJob_NotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, err, models.ErrNotFound)

	job, err := s.GetJobOrNil(ctx, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestGetJob_RejectsCorruptRow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := createJob(t, s, "https://example.com")

	// COMPLETED without a result or completion time.
	_, err := s.db.ExecContext(ctx, `UPDATE extraction_jobs SET status = ? WHERE id = ?`,
		string(models.StatusCompleted), job.ID.String())
	require.NoError(t, err)

	_, err = s.GetJob(ctx, job.ID)
	require.ErrorIs(t, err, store.ErrCorruptJob)
	assert.NotErrorIs(t, err, models.ErrValidation)

	_, _, err = s.ListJobs(ctx, store.ListJobsParams{Limit: 10})
	assert.ErrorIs(t, err, store.ErrCorruptJob)
}

func TestLifecycle_Completed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := createJob(t, s, "https://example.com")

	processing, err := s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, processing.Status)
	assert.Nil(t, processing.CompletedAt)

	done, err := s.SetJobResult(ctx, job.ID, &models.ExtractedDocument{Source: models.SourceWeb, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "hi", done.Result.Content)
	assert.Nil(t, done.Error)
	assert.NotNil(t, done.CompletedAt)
	assert.NoError(t, done.CheckInvariants())

	// Terminal states never regress.
	_, err = s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
	assert.ErrorIs(t, err, store.ErrConflict)
	_, err = s.SetJobError(ctx, job.ID, "late failure")
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestLifecycle_Failed(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := createJob(t, s, "https://example.com")

	_, err := s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
	require.NoError(t, err)

	failed, err := s.SetJobError(ctx, job.ID, "not found")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "not found", *failed.Error)
	assert.Nil(t, failed.Result)
	assert.NoError(t, failed.CheckInvariants())
}

func TestTransitions_RequireProcessing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := createJob(t, s, "https://example.com")

	_, err := s.SetJobResult(ctx, job.ID, &models.ExtractedDocument{Content: "x"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.UpdateJobStatus(ctx, job.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.UpdateJobStatus(ctx, job.ID, models.StatusPending)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.UpdateJobStatus(ctx, uuid.New(), models.StatusProcessing)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
	require.NoError(t, err)
	_, err = s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
	assert.ErrorIs(t, err, store.ErrConflict, "begin processing twice is rejected")
}

func TestConcurrentTerminalWrites_OneWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	job := createJob(t, s, "https://example.com")
	_, err := s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = s.SetJobResult(ctx, job.ID, &models.ExtractedDocument{Content: "ok"})
			} else {
				_, errs[i] = s.SetJobError(ctx, job.ID, "boom")
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, store.ErrConflict)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NoError(t, got.CheckInvariants())
}

func TestListJobs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var last *models.Job
	for _, target := range []string{"https://a.example", "https://b.example", "https://c.example"} {
		last = createJob(t, s, target)
	}

	jobs, total, err := s.ListJobs(ctx, store.ListJobsParams{Limit: 1, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, last.ID, jobs[0].ID, "newest job first")

	jobs, _, err = s.ListJobs(ctx, store.ListJobsParams{Limit: 10, Offset: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "https://a.example", jobs[0].SourceURL)

	_, err = s.UpdateJobStatus(ctx, last.ID, models.StatusProcessing)
	require.NoError(t, err)
	processing := models.StatusProcessing
	jobs, total, err = s.ListJobs(ctx, store.ListJobsParams{Status: &processing})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, last.ID, jobs[0].ID)
}

func TestJobStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	st, err := s.JobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Total)
	assert.Equal(t, 0.0, st.SuccessRate)

	finish := func(ok bool) {
		job := createJob(t, s, "https://example.com")
		_, err := s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
		require.NoError(t, err)
		if ok {
			_, err = s.SetJobResult(ctx, job.ID, &models.ExtractedDocument{Content: "ok"})
		} else {
			_, err = s.SetJobError(ctx, job.ID, "boom")
		}
		require.NoError(t, err)
	}
	finish(true)
	finish(true)
	finish(false)
	createJob(t, s, "https://pending.example")

	st, err = s.JobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 66.67, st.SuccessRate)
}

func TestDeleteJob(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	job := createJob(t, s, "https://example.com")
	_, err := s.UpdateJobStatus(ctx, job.ID, models.StatusProcessing)
	require.NoError(t, err)

	err = s.DeleteJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.SetJobResult(ctx, job.ID, &models.ExtractedDocument{Content: "done"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteJob(ctx, job.ID))
	_, err = s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.DeleteJob(ctx, job.ID), store.ErrNotFound)
}

func TestListJobsParams_Normalize(t *testing.T) {
	tests := []struct {
		in   store.ListJobsParams
		want store.ListJobsParams
	}{
		{store.ListJobsParams{}, store.ListJobsParams{Limit: 20}},
		{store.ListJobsParams{Limit: 500, Offset: -3}, store.ListJobsParams{Limit: 100}},
		{store.ListJobsParams{Limit: -1, Offset: 5}, store.ListJobsParams{Limit: 1, Offset: 5}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalize())
	}
}
