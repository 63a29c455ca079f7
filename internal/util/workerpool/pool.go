// Package workerpool runs fire-and-forget tasks on a bounded set of goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot
	ErrQueueFull = errors.New("worker pool queue is full")
	// ErrStopped is returned by Submit after Stop was called
	ErrStopped = errors.New("worker pool is stopped")
)

// Task represents a unit of work to be executed
type Task struct {
	ID   string
	Kind string
	Fn   func(context.Context) error
}

// Hooks observe task outcomes; any field may be nil
type Hooks struct {
	OnDone   func(task Task, err error, duration time.Duration)
	OnReject func(task Task, err error)
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	// TaskTimeout bounds each task run; zero means no bound
	TaskTimeout time.Duration
	Hooks       Hooks
	Logger      *zap.Logger
}

// WorkerPool manages a bounded pool of goroutines for executing tasks.
// Tasks already queued when Stop is called are still run.
type WorkerPool struct {
	name        string
	maxWorkers  int
	queueSize   int
	taskTimeout time.Duration
	hooks       Hooks
	logger      *zap.Logger

	taskQueue chan Task
	mu        sync.RWMutex
	stopped   bool
	stopOnce  sync.Once
	wg        sync.WaitGroup
	// baseCtx is cancelled only when a Stop deadline passes
	baseCtx    context.Context
	cancelBase context.CancelFunc

	activeWorkers  int32
	totalTasks     uint64
	completedTasks uint64
	failedTasks    uint64
	rejectedTasks  uint64
}

// NewWorkerPool creates and starts a worker pool
func NewWorkerPool(cfg Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		name:        cfg.Name,
		maxWorkers:  cfg.MaxWorkers,
		queueSize:   cfg.QueueSize,
		taskTimeout: cfg.TaskTimeout,
		hooks:       cfg.Hooks,
		logger:      cfg.Logger,
		taskQueue:   make(chan Task, cfg.QueueSize),
		baseCtx:     baseCtx,
		cancelBase:  cancel,
	}

	for i := 0; i < pool.maxWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Info("Worker pool started",
		zap.String("name", pool.name),
		zap.Int("max_workers", pool.maxWorkers),
		zap.Int("queue_size", pool.queueSize))

	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	// the queue is closed by Stop; range drains what is left
	for task := range p.taskQueue {
		p.executeTask(id, task)
	}
}

func (p *WorkerPool) executeTask(workerID int, task Task) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	ctx := p.baseCtx
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	start := time.Now()
	err := p.safeExecute(ctx, task)
	duration := time.Since(start)

	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.logger.Warn("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Duration("duration", duration),
			zap.Error(err))
	} else {
		atomic.AddUint64(&p.completedTasks, 1)
		p.logger.Debug("Task completed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Duration("duration", duration))
	}

	if p.hooks.OnDone != nil {
		p.hooks.OnDone(task, err, duration)
	}
}

// safeExecute executes a task with panic recovery
func (p *WorkerPool) safeExecute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("Task panic recovered",
				zap.String("pool", p.name),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	return task.Fn(ctx)
}

// Submit enqueues a task without blocking
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return p.reject(task, ErrStopped)
	}

	select {
	case p.taskQueue <- task:
		atomic.AddUint64(&p.totalTasks, 1)
		return nil
	default:
		return p.reject(task, ErrQueueFull)
	}
}

func (p *WorkerPool) reject(task Task, err error) error {
	atomic.AddUint64(&p.rejectedTasks, 1)
	if p.hooks.OnReject != nil {
		p.hooks.OnReject(task, err)
	}
	return fmt.Errorf("%s: %w", p.name, err)
}

// Stop stops accepting tasks and waits for queued ones to finish. When ctx
// expires first, running tasks see their context cancelled and ctx.Err() is returned.
func (p *WorkerPool) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool", zap.String("name", p.name))

		p.mu.Lock()
		p.stopped = true
		close(p.taskQueue)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("Worker pool stopped gracefully", zap.String("name", p.name))
		case <-ctx.Done():
			p.cancelBase()
			err = ctx.Err()
			p.logger.Warn("Worker pool stop deadline exceeded",
				zap.String("name", p.name),
				zap.Int("queued", len(p.taskQueue)))
		}
		p.cancelBase()
	})
	return err
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(atomic.LoadInt32(&p.activeWorkers)),
		QueueSize:      p.queueSize,
		QueuedTasks:    len(p.taskQueue),
		TotalTasks:     atomic.LoadUint64(&p.totalTasks),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
		RejectedTasks:  atomic.LoadUint64(&p.rejectedTasks),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueueSize      int
	QueuedTasks    int
	TotalTasks     uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}

// QueueUtilization returns the queue utilization as a percentage
func (s Stats) QueueUtilization() float64 {
	if s.QueueSize == 0 {
		return 0
	}
	return (float64(s.QueuedTasks) / float64(s.QueueSize)) * 100.0
}
