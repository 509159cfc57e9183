package store

import (
	"context"
	"encoding/json"

	"harvest/internal/models"

	"github.com/google/uuid"
)

// --- Job Client ---

// JobClient hands a persisted job to whatever executes it: the in-process
// pool, an asynq queue or an AMQP exchange. EnqueueJob must not block on a
// full queue; it returns ErrQueueFull instead.
type JobClient interface {
	EnqueueJob(ctx context.Context, jobID uuid.UUID) error
	Close() error
}

// --- Job Store ---

// CreateJobParams carries the immutable fields of a new job.
type CreateJobParams struct {
	Source      models.SourceKind
	SourceURL   string
	CallbackURL string
	Options     json.RawMessage
	FileName    string
	FileContent string
}

// ListJobsParams filters and pages ListJobs. Limit is clamped to
// [1, MaxListLimit]; a zero limit means DefaultListLimit.
type ListJobsParams struct {
	Status *models.Status
	Limit  int
	Offset int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalize clamps limit and offset into their allowed ranges.
func (p ListJobsParams) Normalize() ListJobsParams {
	if p.Limit == 0 {
		p.Limit = DefaultListLimit
	}
	if p.Limit < 1 {
		p.Limit = 1
	}
	if p.Limit > MaxListLimit {
		p.Limit = MaxListLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// JobStore is the durable record of jobs. Implementations serialize
// concurrent transitions on the same job: a transition whose precondition no
// longer holds fails with ErrConflict.
type JobStore interface {
	CreateJob(ctx context.Context, params CreateJobParams) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// GetJobOrNil returns (nil, nil) for an unknown id.
	GetJobOrNil(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// UpdateJobStatus performs a non-terminal transition (PENDING -> PROCESSING).
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Job, error)
	// SetJobResult moves a PROCESSING job to COMPLETED with its document.
	SetJobResult(ctx context.Context, id uuid.UUID, doc *models.ExtractedDocument) (*models.Job, error)
	// SetJobError moves a PROCESSING job to FAILED with its error message.
	SetJobError(ctx context.Context, id uuid.UUID, message string) (*models.Job, error)
	// ListJobs returns a page ordered by created_at desc and the total
	// number of jobs matching the filter.
	ListJobs(ctx context.Context, params ListJobsParams) ([]*models.Job, int, error)
	JobStats(ctx context.Context) (*models.JobStats, error)
	// DeleteJob removes a job unless it is PROCESSING (ErrConflict).
	DeleteJob(ctx context.Context, id uuid.UUID) error

	Ping(ctx context.Context) error
	Close() error
}
