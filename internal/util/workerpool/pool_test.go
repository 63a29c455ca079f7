package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	var mu sync.Mutex
	outcomes := map[string]error{}

	pool := NewWorkerPool(Config{
		Name:       "test",
		MaxWorkers: 2,
		QueueSize:  10,
		Logger:     zap.NewNop(),
		Hooks: Hooks{
			OnDone: func(task Task, err error, _ time.Duration) {
				mu.Lock()
				outcomes[task.ID] = err
				mu.Unlock()
			},
		},
	})

	boom := errors.New("boom")
	require.NoError(t, pool.Submit(Task{ID: "ok", Fn: func(context.Context) error { return nil }}))
	require.NoError(t, pool.Submit(Task{ID: "fail", Fn: func(context.Context) error { return boom }}))
	require.NoError(t, pool.Submit(Task{ID: "panic", Fn: func(context.Context) error { panic("oops") }}))

	require.NoError(t, pool.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes["ok"])
	assert.ErrorIs(t, outcomes["fail"], boom)
	assert.ErrorContains(t, outcomes["panic"], "task panicked")

	stats := pool.Stats()
	assert.Equal(t, uint64(3), stats.TotalTasks)
	assert.Equal(t, uint64(1), stats.CompletedTasks)
	assert.Equal(t, uint64(2), stats.FailedTasks)
}

func TestWorkerPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var rejected int32

	pool := NewWorkerPool(Config{
		Name:       "full",
		MaxWorkers: 1,
		QueueSize:  1,
		Hooks: Hooks{
			OnReject: func(Task, error) { atomic.AddInt32(&rejected, 1) },
		},
	})

	require.NoError(t, pool.Submit(Task{ID: "blocker", Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.NoError(t, pool.Submit(Task{ID: "queued", Fn: func(context.Context) error { return nil }}))

	err := pool.Submit(Task{ID: "overflow", Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rejected))

	close(release)
	require.NoError(t, pool.Stop(context.Background()))

	err = pool.Submit(Task{ID: "late", Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, uint64(2), pool.Stats().RejectedTasks)
}

func TestWorkerPool_StopDeadlineCancelsTasks(t *testing.T) {
	pool := NewWorkerPool(Config{Name: "slow", MaxWorkers: 1, QueueSize: 1})

	cancelled := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(Task{ID: "slow", Fn: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	done := make(chan error, 1)
	pool := NewWorkerPool(Config{
		Name:        "timeout",
		MaxWorkers:  1,
		TaskTimeout: 10 * time.Millisecond,
		Hooks: Hooks{
			OnDone: func(_ Task, err error, _ time.Duration) { done <- err },
		},
	})
	defer pool.Stop(context.Background())

	require.NoError(t, pool.Submit(Task{ID: "t", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task did not time out")
	}
}
