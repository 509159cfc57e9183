package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CallbackOutcome is the webhook body sent once a job is terminal.
type CallbackOutcome struct {
	JobID       uuid.UUID          `json:"job_id"`
	Status      Status             `json:"status"`
	Result      *ExtractedDocument `json:"result,omitempty"`
	Error       *string            `json:"error,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
}

// NewCallbackOutcome builds the outcome from a job's final state.
func NewCallbackOutcome(job *Job) (CallbackOutcome, error) {
	if !job.IsTerminal() || job.CompletedAt == nil {
		return CallbackOutcome{}, fmt.Errorf("job %s is %s, not terminal: %w", job.ID, job.Status, ErrConflict)
	}
	return CallbackOutcome{
		JobID:       job.ID,
		Status:      job.Status,
		Result:      job.Result,
		Error:       job.Error,
		CompletedAt: job.CompletedAt.UTC(),
	}, nil
}
