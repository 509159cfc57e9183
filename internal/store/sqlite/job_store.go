package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"harvest/internal/models"
	"harvest/internal/store"

	"github.com/google/uuid"
)

var _ store.JobStore = (*Store)(nil)

const jobColumns = `id, status, source, source_url, callback_url, options, file_name, file_content,
	result, error, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j           models.Job
		status      string
		source      string
		options     sql.NullString
		result      sql.NullString
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&j.ID,
		&status,
		&source,
		&j.SourceURL,
		&j.CallbackURL,
		&options,
		&j.FileName,
		&j.FileContent,
		&result,
		&errMsg,
		&j.CreatedAt,
		&j.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = models.Status(status)
	j.Source = models.SourceKind(source)
	if options.Valid && options.String != "" {
		j.Options = []byte(options.String)
	}
	if result.Valid {
		if j.Result, err = store.UnmarshalDocument([]byte(result.String)); err != nil {
			return nil, err
		}
	}
	if errMsg.Valid {
		msg := errMsg.String
		j.Error = &msg
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if err := j.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorruptJob, err)
	}
	return &j, nil
}

func (s *Store) CreateJob(ctx context.Context, params store.CreateJobParams) (*models.Job, error) {
	var options sql.NullString
	if len(params.Options) > 0 {
		options = sql.NullString{String: string(params.Options), Valid: true}
	}
	id := uuid.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_jobs (id, status, source, source_url, callback_url, options, file_name, file_content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), string(models.StatusPending), string(params.Source), params.SourceURL, params.CallbackURL,
		options, params.FileName, params.FileContent, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return s.GetJob(ctx, id)
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (s *Store) GetJobOrNil(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return job, err
}

func (s *Store) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Job, error) {
	if err := store.CheckStatusUpdate(status); err != nil {
		return nil, err
	}
	preds := store.Predecessors(status)
	if len(preds) == 0 {
		return nil, s.transitionMiss(ctx, id, status)
	}
	// Only PROCESSING is reachable through UpdateJobStatus and it has a
	// single predecessor.
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), time.Now().UTC(), id.String(), preds[0])
	if err != nil {
		return nil, fmt.Errorf("failed to update status for job %s: %w", id, err)
	}
	return s.afterTransition(ctx, res, id, status)
}

func (s *Store) SetJobResult(ctx context.Context, id uuid.UUID, doc *models.ExtractedDocument) (*models.Job, error) {
	if doc == nil {
		return nil, models.NewValidationError("result", "document is required to complete a job")
	}
	payload, err := store.MarshalDocument(doc)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE extraction_jobs
		SET status = ?, result = ?, error = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusCompleted), string(payload), now, now, id.String(), string(models.StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to set result for job %s: %w", id, err)
	}
	return s.afterTransition(ctx, res, id, models.StatusCompleted)
}

func (s *Store) SetJobError(ctx context.Context, id uuid.UUID, message string) (*models.Job, error) {
	if message == "" {
		return nil, models.NewValidationError("error", "message is required to fail a job")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE extraction_jobs
		SET status = ?, error = ?, result = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusFailed), message, now, now, id.String(), string(models.StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to set error for job %s: %w", id, err)
	}
	return s.afterTransition(ctx, res, id, models.StatusFailed)
}

func (s *Store) afterTransition(ctx context.Context, res sql.Result, id uuid.UUID, target models.Status) (*models.Job, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil, s.transitionMiss(ctx, id, target)
	}
	return s.GetJob(ctx, id)
}

func (s *Store) transitionMiss(ctx context.Context, id uuid.UUID, target models.Status) error {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s, cannot move to %s: %w", id, job.Status, target, store.ErrConflict)
}

func (s *Store) ListJobs(ctx context.Context, params store.ListJobsParams) ([]*models.Job, int, error) {
	params = params.Normalize()

	where := ""
	var args []any
	if params.Status != nil {
		where = ` WHERE status = ?`
		args = append(args, string(*params.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extraction_jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM extraction_jobs` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, params.Limit, params.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *Store) JobStats(ctx context.Context) (*models.JobStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM extraction_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query job stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job stats: %w", err)
		}
		counts[models.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job stats: %w", err)
	}
	return models.NewJobStats(counts), nil
}

func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM extraction_jobs WHERE id = ? AND status <> ?`, id.String(), string(models.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("job %s is processing: %w", id, store.ErrConflict)
}
