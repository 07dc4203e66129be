package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"spacechat/internal/middleware"
	"spacechat/internal/models"
	"spacechat/internal/observability"

	"golang.org/x/sync/errgroup"
)

const moderationJobTimeout = 30 * time.Second

// Evaluator is the moderation step a Dispatcher runs for each job.
type Evaluator interface {
	Evaluate(ctx context.Context, job ModerationJob) error
}

// Dispatcher runs moderation jobs on a bounded pool of workers. Submit never
// blocks the sender and never drops a job: when the queue is full, jobs wait
// in an in-memory backlog that one feeder goroutine moves into the queue.
type Dispatcher struct {
	evaluator Evaluator
	workers   int
	queue     chan ModerationJob

	mu       sync.Mutex
	closed   bool
	backlog  []ModerationJob
	spilling bool
	spill    sync.WaitGroup

	// ctx is cancelled only when Shutdown gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewDispatcher returns a dispatcher with the given pool and queue sizes.
func NewDispatcher(evaluator Evaluator, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		evaluator: evaluator,
		workers:   workers,
		queue:     make(chan ModerationJob, queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers. ctx contributes values only: cancelling it does
// not stop the pool. Workers exit once Shutdown has closed and drained the
// queue, or when Shutdown's deadline passes.
func (d *Dispatcher) Start(ctx context.Context) {
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	context.AfterFunc(d.ctx, stop)

	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-runCtx.Done():
					return nil
				case job, ok := <-d.queue:
					if !ok {
						return nil
					}
					observability.ModerationQueueDepth.Dec()
					d.run(runCtx, job)
				}
			}
		})
	}
	d.group = g
}

// Submit queues job. Jobs keep their submission order through the backlog.
func (d *Dispatcher) Submit(job ModerationJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	observability.ModerationQueueDepth.Inc()

	if len(d.backlog) == 0 {
		select {
		case d.queue <- job:
			return
		default:
		}
	}

	d.backlog = append(d.backlog, job)
	if !d.spilling {
		d.spilling = true
		d.spill.Add(1)
		go d.feedBacklog()
	}
}

// Backlog reports how many jobs are waiting behind the full queue.
func (d *Dispatcher) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.backlog)
}

func (d *Dispatcher) feedBacklog() {
	defer d.spill.Done()
	for {
		d.mu.Lock()
		if len(d.backlog) == 0 {
			d.spilling = false
			d.mu.Unlock()
			return
		}
		job := d.backlog[0]
		d.backlog[0] = ModerationJob{}
		d.backlog = d.backlog[1:]
		d.mu.Unlock()

		select {
		case d.queue <- job:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, job ModerationJob) {
	ctx = context.WithValue(ctx, middleware.UserIDKey, job.SenderID)
	if job.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, job.CorrelationID)
	}
	ctx, cancel := context.WithTimeout(ctx, moderationJobTimeout)
	defer cancel()

	fields := map[string]interface{}{
		"space_id":   job.SpaceID,
		"message_id": job.MessageID,
	}
	observability.LogAsyncOperationStart(ctx, "moderation.evaluate", fields)

	err := d.evaluator.Evaluate(ctx, job)
	switch {
	case err == nil:
		observability.LogAsyncOperationEnd(ctx, "moderation.evaluate", fields)
	case models.HasCode(err, models.CodeClassifierUnavailable):
		// The message stays unflagged; the send already succeeded.
		observability.LogAsyncOperationError(ctx, "moderation.evaluate", err, fields)
	case errors.Is(err, context.Canceled):
	default:
		observability.LogAsyncOperationError(ctx, "moderation.evaluate", err, fields)
	}
}

// Shutdown stops accepting jobs and waits until every queued or backlogged
// job has been evaluated. When ctx expires first, in-flight evaluations are
// cancelled and the remaining jobs are abandoned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.spill.Wait()
		close(d.queue)
		if d.group != nil {
			_ = d.group.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
