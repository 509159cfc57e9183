package store

import (
	"context"
	"errors"
	"fmt"

	"harvest/internal/tasks"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

// AsynqJobClient is a JobClient that enqueues extraction tasks on Redis.
// Ensure it implements JobClient
var _ JobClient = (*AsynqJobClient)(nil)

type AsynqJobClient struct {
	client *asynq.Client
	queue  string
}

func NewAsynqJobClient(opt asynq.RedisClientOpt, queue string) (*AsynqJobClient, error) {
	if opt.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty for AsynqJobClient")
	}
	if queue == "" {
		queue = tasks.QueueExtraction
	}
	return &AsynqJobClient{client: asynq.NewClient(opt), queue: queue}, nil
}

func (jc *AsynqJobClient) Close() error {
	return jc.client.Close()
}

// Enqueue enqueues a raw task on the client's queue.
func (jc *AsynqJobClient) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if jc.client == nil {
		return nil, fmt.Errorf("AsynqJobClient internal client is not initialized")
	}
	opts = append([]asynq.Option{asynq.Queue(jc.queue)}, opts...)
	info, err := jc.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		log.WithError(err).WithField("task_type", task.Type()).Error("asynq enqueue failed")
		return nil, err
	}
	log.WithFields(log.Fields{"task_type": task.Type(), "task_id": info.ID, "queue": info.Queue}).Debug("task enqueued")
	return info, nil
}

// EnqueueJob enqueues the extraction task for a job. The task id is the job
// id so a job can only be queued once; retries happen inside the task.
func (jc *AsynqJobClient) EnqueueJob(ctx context.Context, jobID uuid.UUID) error {
	task, err := tasks.NewExtractionTask(jobID)
	if err != nil {
		return err
	}
	_, err = jc.Enqueue(ctx, task, asynq.TaskID(jobID.String()), asynq.MaxRetry(0))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.WithField("job_id", jobID).Warn("extraction task already enqueued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue extraction job %s: %w", jobID, err)
	}
	return nil
}
