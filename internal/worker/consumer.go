package worker

import (
	"context"
	"errors"
	"sync"

	"harvest/internal/mq"
	"harvest/internal/store"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// DeliverySource yields AMQP deliveries; *mq.Client satisfies it.
type DeliverySource interface {
	Consume(prefetch int) (<-chan amqp.Delivery, error)
}

// Consumer executes jobs published to the AMQP queue.
type Consumer struct {
	source      DeliverySource
	exec        Executor
	concurrency int
}

func NewConsumer(source DeliverySource, exec Executor, concurrency int) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{source: source, exec: exec, concurrency: concurrency}
}

// Run consumes until ctx is done or the delivery channel closes, then waits
// for in-flight jobs.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.concurrency)
	if err != nil {
		return err
	}
	log.WithField("concurrency", c.concurrency).Info("amqp consumer started")

	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.handle(ctx, d)
				}
			}
		}()
	}
	wg.Wait()
	log.Info("amqp consumer stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	id, err := mq.ParseJobID(d.Body)
	if err != nil {
		log.WithError(err).Error("dropping malformed job message")
		_ = d.Nack(false, false)
		return
	}
	logger := log.WithField("job_id", id)

	job, err := c.exec.Execute(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict):
		logger.WithError(err).Warn("skipping job message")
	case err != nil:
		// Redelivery would find the job PROCESSING; drop it and leave the
		// row for reconciliation.
		logger.WithError(err).Error("job execution failed")
		_ = d.Nack(false, false)
		return
	default:
		logger.WithField("status", job.Status).Info("job message done")
	}
	if err := d.Ack(false); err != nil {
		logger.WithError(err).Warn("failed to ack job message")
	}
}
