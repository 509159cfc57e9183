package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is a tracked request to extract content from one source and deliver
// the outcome to a callback URL.
type Job struct {
	ID          uuid.UUID          `json:"job_id" db:"id"`
	Status      Status             `json:"status" db:"status"`
	Source      SourceKind         `json:"source" db:"source"`
	SourceURL   string             `json:"source_url" db:"source_url"`
	CallbackURL string             `json:"callback_url" db:"callback_url"`
	Options     json.RawMessage    `json:"config,omitempty" db:"options"`
	FileName    string             `json:"file_name,omitempty" db:"file_name"`
	FileContent string             `json:"-" db:"file_content"` // base64, as received
	Result      *ExtractedDocument `json:"result,omitempty" db:"result"`
	Error       *string            `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time         `json:"completed_at" db:"completed_at"`
}

// IsTerminal reports whether the job reached COMPLETED or FAILED.
func (j *Job) IsTerminal() bool { return j.Status.IsTerminal() }

// CheckInvariants verifies the relationship between status, payload and
// completion time. Both stores call it on every row they scan.
func (j *Job) CheckInvariants() error {
	switch j.Status {
	case StatusPending, StatusProcessing:
		if j.CompletedAt != nil {
			return NewValidationError("completed_at", "set on non-terminal job %s", j.ID)
		}
		if j.Result != nil || j.Error != nil {
			return NewValidationError("result", "payload set on non-terminal job %s", j.ID)
		}
	case StatusCompleted:
		if j.CompletedAt == nil || j.Result == nil || j.Error != nil {
			return NewValidationError("result", "completed job %s must carry a result and no error", j.ID)
		}
	case StatusFailed:
		if j.CompletedAt == nil || j.Error == nil || j.Result != nil {
			return NewValidationError("error", "failed job %s must carry an error and no result", j.ID)
		}
	default:
		return NewValidationError("status", "unknown status %q", j.Status)
	}
	return nil
}

// JobStats aggregates job counts per status.
type JobStats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Processing  int     `json:"processing"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// NewJobStats builds stats from per-status counts and derives the success
// rate as a percentage of terminal jobs, rounded to two decimals.
func NewJobStats(counts map[Status]int) *JobStats {
	st := &JobStats{
		Pending:    counts[StatusPending],
		Processing: counts[StatusProcessing],
		Completed:  counts[StatusCompleted],
		Failed:     counts[StatusFailed],
	}
	st.Total = st.Pending + st.Processing + st.Completed + st.Failed
	st.SuccessRate = SuccessRate(st.Completed, st.Failed)
	return st
}

// SuccessRate returns completed/(completed+failed)*100 rounded to two
// decimals, or 0 when there are no terminal jobs.
func SuccessRate(completed, failed int) float64 {
	terminal := completed + failed
	if terminal == 0 {
		return 0
	}
	rate := float64(completed) / float64(terminal) * 100
	return roundTo(rate, 2)
}
