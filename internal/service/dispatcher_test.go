package service

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"spacechat/internal/middleware"
	"spacechat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEvaluator struct {
	count   atomic.Int64
	release chan struct{}

	mu      sync.Mutex
	senders []string
	err     error
}

func (e *countingEvaluator) Evaluate(ctx context.Context, job ModerationJob) error {
	if e.release != nil {
		<-e.release
	}
	sender, _ := ctx.Value(middleware.UserIDKey).(string)
	e.mu.Lock()
	e.senders = append(e.senders, sender)
	e.mu.Unlock()
	e.count.Add(1)
	return e.err
}

func TestDispatcher_RunsEveryJob(t *testing.T) {
	eval := &countingEvaluator{}
	d := NewDispatcher(eval, 2, 8)
	d.Start(context.Background())

	for i := 0; i < 20; i++ {
		d.Submit(ModerationJob{MessageID: "m", SenderID: "b@example.com"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	assert.Equal(t, int64(20), eval.count.Load())

	eval.mu.Lock()
	defer eval.mu.Unlock()
	for _, s := range eval.senders {
		assert.Equal(t, "b@example.com", s)
	}
}

func TestDispatcher_SubmitDoesNotBlockWhenQueueIsFull(t *testing.T) {
	eval := &countingEvaluator{release: make(chan struct{})}
	d := NewDispatcher(eval, 1, 1)
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Submit(ModerationJob{MessageID: "m"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	close(eval.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	assert.Equal(t, int64(5), eval.count.Load())
}

func TestDispatcher_IgnoresSubmitAfterShutdown(t *testing.T) {
	eval := &countingEvaluator{err: models.NewClassifierUnavailableError(nil)}
	d := NewDispatcher(eval, 1, 4)
	d.Start(context.Background())

	d.Submit(ModerationJob{MessageID: "m1"})
	require.NoError(t, d.Shutdown(context.Background()))
	require.NoError(t, d.Shutdown(context.Background()))

	d.Submit(ModerationJob{MessageID: "m2"})
	assert.Equal(t, int64(1), eval.count.Load())
}

type orderedEvaluator struct {
	mu  sync.Mutex
	ids []string
}

func (e *orderedEvaluator) Evaluate(_ context.Context, job ModerationJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, job.MessageID)
	return nil
}

func TestDispatcher_ParentCancelDoesNotDropJobs(t *testing.T) {
	eval := &orderedEvaluator{}
	d := NewDispatcher(eval, 1, 2)

	parent, cancelParent := context.WithCancel(context.Background())
	d.Start(parent)

	var want []string
	for i := 0; i < 10; i++ {
		id := "m" + strconv.Itoa(i)
		want = append(want, id)
		d.Submit(ModerationJob{MessageID: id})
	}
	cancelParent()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	eval.mu.Lock()
	defer eval.mu.Unlock()
	assert.Equal(t, want, eval.ids)
	assert.Zero(t, d.Backlog())
}

func TestDispatcher_ShutdownDeadlineCancelsInFlight(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	var cancelled atomic.Bool
	eval := evaluatorFunc(func(ctx context.Context, _ ModerationJob) error {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return ctx.Err()
		case <-block:
			return nil
		}
	})
	d := NewDispatcher(eval, 1, 1)
	d.Start(context.Background())
	d.Submit(ModerationJob{MessageID: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
	assert.Eventually(t, cancelled.Load, time.Second, 10*time.Millisecond)
}

type evaluatorFunc func(ctx context.Context, job ModerationJob) error

func (f evaluatorFunc) Evaluate(ctx context.Context, job ModerationJob) error { return f(ctx, job) }
