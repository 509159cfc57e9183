package primary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"harvest/internal/models"
	"harvest/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Job Store Implementation ---

var _ store.JobStore = (*StoreImpl)(nil)

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
		options     []byte
		result      []byte
		completedAt *time.Time
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
		&j.Error,
		&j.CreatedAt,
		&j.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = models.Status(status)
	j.Source = models.SourceKind(source)
	if len(options) > 0 {
		j.Options = options
	}
	if j.Result, err = store.UnmarshalDocument(result); err != nil {
		return nil, err
	}
	j.CompletedAt = completedAt
	if err := j.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrCorruptJob, err)
	}
	return &j, nil
}

// CreateJob inserts a new PENDING job.
func (s *StoreImpl) CreateJob(ctx context.Context, params store.CreateJobParams) (*models.Job, error) {
	query := `
		INSERT INTO extraction_jobs (id, status, source, source_url, callback_url, options, file_name, file_content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING ` + jobColumns

	var options any
	if len(params.Options) > 0 {
		options = []byte(params.Options)
	}
	now := time.Now().UTC()
	job, err := scanJob(s.db.QueryRow(ctx, query,
		uuid.New(),
		string(models.StatusPending),
		string(params.Source),
		params.SourceURL,
		params.CallbackURL,
		options,
		params.FileName,
		params.FileContent,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a job by id.
func (s *StoreImpl) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM extraction_jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

func (s *StoreImpl) GetJobOrNil(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return job, err
}

// UpdateJobStatus applies a non-terminal transition. The WHERE clause only
// matches rows in an allowed predecessor status, so of two concurrent
// callers at most one succeeds.
func (s *StoreImpl) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Job, error) {
	if err := store.CheckStatusUpdate(status); err != nil {
		return nil, err
	}
	query := `
		UPDATE extraction_jobs SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)
		RETURNING ` + jobColumns
	job, err := scanJob(s.db.QueryRow(ctx, query, string(status), time.Now().UTC(), id, store.Predecessors(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transitionMiss(ctx, id, status)
		}
		return nil, fmt.Errorf("failed to update status for job %s: %w", id, err)
	}
	return job, nil
}

// SetJobResult stores the document and completes the job in one statement.
func (s *StoreImpl) SetJobResult(ctx context.Context, id uuid.UUID, doc *models.ExtractedDocument) (*models.Job, error) {
	if doc == nil {
		return nil, models.NewValidationError("result", "document is required to complete a job")
	}
	payload, err := store.MarshalDocument(doc)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE extraction_jobs
		SET status = $1, result = $2, error = NULL, completed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
		RETURNING ` + jobColumns
	job, err := scanJob(s.db.QueryRow(ctx, query,
		string(models.StatusCompleted), payload, time.Now().UTC(), id, string(models.StatusProcessing)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transitionMiss(ctx, id, models.StatusCompleted)
		}
		return nil, fmt.Errorf("failed to set result for job %s: %w", id, err)
	}
	return job, nil
}

// SetJobError stores the error message and fails the job in one statement.
func (s *StoreImpl) SetJobError(ctx context.Context, id uuid.UUID, message string) (*models.Job, error) {
	if message == "" {
		return nil, models.NewValidationError("error", "message is required to fail a job")
	}
	query := `
		UPDATE extraction_jobs
		SET status = $1, error = $2, result = NULL, completed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
		RETURNING ` + jobColumns
	job, err := scanJob(s.db.QueryRow(ctx, query,
		string(models.StatusFailed), message, time.Now().UTC(), id, string(models.StatusProcessing)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transitionMiss(ctx, id, models.StatusFailed)
		}
		return nil, fmt.Errorf("failed to set error for job %s: %w", id, err)
	}
	return job, nil
}

// transitionMiss explains why a conditional update matched no row.
func (s *StoreImpl) transitionMiss(ctx context.Context, id uuid.UUID, target models.Status) error {
	var current string
	err := s.db.QueryRow(ctx, `SELECT status FROM extraction_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read status for job %s: %w", id, err)
	}
	return fmt.Errorf("job %s is %s, cannot move to %s: %w", id, current, target, store.ErrConflict)
}

// ListJobs returns a page of jobs, newest first, and the filtered total.
func (s *StoreImpl) ListJobs(ctx context.Context, params store.ListJobsParams) ([]*models.Job, int, error) {
	params = params.Normalize()

	where := ""
	var args []any
	if params.Status != nil {
		where = ` WHERE status = $1`
		args = append(args, string(*params.Status))
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM extraction_jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM extraction_jobs%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, len(args)+1, len(args)+2)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.db.Query(ctx, query, args...)
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

// JobStats counts jobs per status.
func (s *StoreImpl) JobStats(ctx context.Context) (*models.JobStats, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM extraction_jobs GROUP BY status`)
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

// DeleteJob removes a job. The row is locked first so a concurrent
// transition into PROCESSING cannot slip in between check and delete.
func (s *StoreImpl) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM extraction_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock job %s: %w", id, err)
	}
	if models.Status(status) == models.StatusProcessing {
		return fmt.Errorf("job %s is processing: %w", id, store.ErrConflict)
	}

	cmdTag, err := tx.Exec(ctx, `DELETE FROM extraction_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return tx.Commit(ctx)
}
