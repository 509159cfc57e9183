// Package worker runs extraction jobs handed over by a dispatcher: the
// in-process Pool, the asynq task handler and the AMQP consumer all end in
// Executor.Execute.
package worker

import (
	"context"
	"sync"
	"time"

	"harvest/internal/models"
	"harvest/internal/observability"
	"harvest/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Executor runs one job to a terminal status.
type Executor interface {
	Execute(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// Pool is an in-process dispatcher with a fixed number of workers and a
// bounded queue. It implements store.JobClient.
type Pool struct {
	exec    Executor
	workers int
	timeout time.Duration

	ch   chan uuid.UUID
	wg   sync.WaitGroup
	once sync.Once

	// base is cancelled when Shutdown gives up waiting.
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ store.JobClient = (*Pool)(nil)

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan uuid.UUID, n)
		}
	}
}

// WithJobTimeout bounds one job, extraction retries and delivery included.
func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewPool(exec Executor, opts ...Option) *Pool {
	base, cancel := context.WithCancel(context.Background())
	p := &Pool{
		exec:    exec,
		workers: 4,
		timeout: 5 * time.Minute,
		ch:      make(chan uuid.UUID, 256),
		base:    base,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the workers. Jobs enqueued before Start wait in the queue.
func (p *Pool) Start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.run(i + 1)
		}
		log.WithFields(log.Fields{"workers": p.workers, "queue_size": cap(p.ch)}).Info("worker pool started")
	})
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	logger := log.WithField("worker_id", workerID)
	logger.Debug("worker started")

	for id := range p.ch {
		observability.LocalQueueDepth.Set(float64(p.Len()))
		ctx, cancel := context.WithTimeout(p.base, p.timeout)
		job, err := p.exec.Execute(ctx, id)
		cancel()

		entry := logger.WithField("job_id", id)
		switch {
		case err != nil:
			entry.WithError(err).Error("job execution failed")
		default:
			entry.WithField("status", job.Status).Debug("job finished")
		}
	}
	logger.Debug("worker stopped")
}

// EnqueueJob queues id without blocking. A full queue returns
// store.ErrQueueFull; a pool that is shutting down returns store.ErrClosed.
func (p *Pool) EnqueueJob(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return store.ErrClosed
	}
	select {
	case p.ch <- id:
		observability.LocalQueueDepth.Set(float64(p.Len()))
		return nil
	default:
		log.WithFields(log.Fields{"job_id": id, "queue_size": cap(p.ch)}).Warn("worker queue full")
		return store.ErrQueueFull
	}
}

// Len reports the number of queued jobs not yet picked up.
func (p *Pool) Len() int { return len(p.ch) }

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. If ctx ends first, running jobs are cancelled and ctx.Err() is
// returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	// A pool that never started drops its queued ids; those jobs stay PENDING.
	p.once.Do(func() {})

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-done:
		p.cancel()
		log.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		log.Warn("worker pool shutdown interrupted; running jobs cancelled")
		<-done
		return ctx.Err()
	}
}

// Close shuts the pool down, waiting up to 30 seconds.
func (p *Pool) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.Shutdown(ctx)
}
