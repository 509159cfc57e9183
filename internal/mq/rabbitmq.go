// Package mq is the RabbitMQ transport for extraction jobs: one durable
// direct exchange bound to one durable queue, message body = job id.
package mq

import (
	"context"
	"fmt"
	"sync"

	"harvest/internal/store"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultExchange = "harvest.jobs"
	DefaultQueue    = "harvest.jobs.extraction"
)

// Client owns one connection and channel. Publishing is serialized since
// an amqp channel is not safe for concurrent use.
type Client struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string

	mu sync.Mutex
}

var _ store.JobClient = (*Client)(nil)

func New(url, exchange, queue string) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url cannot be empty")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &Client{conn: conn, ch: ch, exchange: exchange, queue: queue}, nil
}

// SetupTopology declares the exchange and queue and binds them. Idempotent.
func (c *Client) SetupTopology() error {
	if err := c.ch.ExchangeDeclare(c.exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}
	if _, err := c.ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	if err := c.ch.QueueBind(c.queue, c.queue, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", c.queue, err)
	}
	return nil
}

// EnqueueJob publishes a persistent message carrying the job id.
func (c *Client) EnqueueJob(ctx context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.ch.PublishWithContext(ctx,
		c.exchange, // exchange
		c.queue,    // routing key
		false,      // mandatory
		false,      // immediate
		newPublishing(jobID))
	if err != nil {
		return fmt.Errorf("publish job %s: %w", jobID, err)
	}
	log.WithFields(log.Fields{"job_id": jobID, "exchange": c.exchange}).Debug("job published")
	return nil
}

func newPublishing(jobID uuid.UUID) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID.String(),
		Body:         []byte(jobID.String()),
	}
}

// Consume starts a manual-ack consumer with the given prefetch.
func (c *Client) Consume(prefetch int) (<-chan amqp.Delivery, error) {
	if prefetch > 0 {
		if err := c.ch.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}
	return c.ch.Consume(
		c.queue,
		"",    // consumer
		false, // auto-ack is false. We will manually ack.
		false,
		false,
		false,
		nil,
	)
}

// ParseJobID reads the job id from a delivery body.
func ParseJobID(body []byte) (uuid.UUID, error) {
	id, err := uuid.ParseBytes(body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", body, err)
	}
	return id, nil
}

func (c *Client) Close() error {
	chErr := c.ch.Close()
	if err := c.conn.Close(); err != nil {
		return err
	}
	return chErr
}
