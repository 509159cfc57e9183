package worker

import (
	"context"
	"errors"
	"fmt"

	"harvest/internal/store"
	"harvest/internal/tasks"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// HandleExtractionTask executes the job named by a TypeExtractionJob task.
// Bad payloads and jobs that are gone or already taken are not retried.
func HandleExtractionTask(exec Executor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := tasks.ParseExtractionPayload(t.Payload())
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		logger := log.WithFields(log.Fields{"job_id": p.JobID, "task_type": t.Type()})

		job, err := exec.Execute(ctx, p.JobID)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			logger.WithError(err).Warn("skipping extraction task")
			return nil
		}
		if err != nil {
			return fmt.Errorf("execute job %s: %v: %w", p.JobID, err, asynq.SkipRetry)
		}
		logger.WithField("status", job.Status).Info("extraction task done")
		return nil
	}
}

// RegisterHandlers installs the extraction handler on mux.
func RegisterHandlers(mux *asynq.ServeMux, exec Executor) {
	log.WithField("task_type", tasks.TypeExtractionJob).Info("registering extraction handler")
	mux.HandleFunc(tasks.TypeExtractionJob, HandleExtractionTask(exec))
}
