package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Defines constants for task types used in Asynq.

const (
	// TypeExtractionJob is the task type for executing one extraction job.
	TypeExtractionJob = "extraction:execute"

	// QueueExtraction is the asynq queue extraction tasks are sent to.
	QueueExtraction = "extraction"
)

// ExtractionPayload is the body of a TypeExtractionJob task. The job row
// holds everything else.
type ExtractionPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// NewExtractionTask builds the asynq task for a job.
func NewExtractionTask(jobID uuid.UUID) (*asynq.Task, error) {
	b, err := json.Marshal(ExtractionPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("encode extraction payload: %w", err)
	}
	return asynq.NewTask(TypeExtractionJob, b), nil
}

// ParseExtractionPayload decodes a TypeExtractionJob task body.
func ParseExtractionPayload(payload []byte) (ExtractionPayload, error) {
	var p ExtractionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("decode extraction payload: %w", err)
	}
	if p.JobID == uuid.Nil {
		return p, fmt.Errorf("decode extraction payload: missing job_id")
	}
	return p, nil
}
