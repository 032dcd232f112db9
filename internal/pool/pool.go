// Package pool provides the bounded worker pool that executes detached
// background tasks: the per-turn write pipeline and post-retrieval access
// tracking. Modeling fire-and-forget work as an explicit queue keeps
// retries, timeouts, and backpressure observable and testable.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("worker pool is closed")
	// ErrQueueFull is returned when the task queue is at capacity.
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Task is a unit of background work.
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Config configures a worker pool.
type Config struct {
	Workers     int           `yaml:"workers" json:"workers"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size"`
	TaskTimeout time.Duration `yaml:"task_timeout" json:"task_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		QueueSize:   256,
		TaskTimeout: 60 * time.Second,
	}
}

// WorkerPool runs tasks on a fixed set of workers. Tasks are detached from
// their submitter: they run under the pool's own context with a bounded
// timeout, so a client disconnect never cancels an in-flight write.
type WorkerPool struct {
	cfg    Config
	queue  chan Task
	logger *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates and starts a worker pool.
func New(cfg Config, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 60 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		cfg:     cfg,
		queue:   make(chan Task, cfg.QueueSize),
		logger:  logger.With(zap.String("component", "worker_pool")),
		baseCtx: ctx,
		cancel:  cancel,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a task. It never blocks: a full queue returns ErrQueueFull
// so callers can count the drop instead of stalling a request path.
func (p *WorkerPool) Submit(task Task) error {
	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth returns the number of tasks waiting to run.
func (p *WorkerPool) QueueDepth() int {
	return len(p.queue)
}

// Stats returns submitted/completed/failed counters.
func (p *WorkerPool) Stats() (submitted, completed, failed int64) {
	return p.submitted.Load(), p.completed.Load(), p.failed.Load()
}

// Close stops accepting tasks, drains the queue, and waits for in-flight
// tasks to finish.
func (p *WorkerPool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
	p.cancel()
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for task := range p.queue {
		p.run(task)
	}
}

func (p *WorkerPool) run(task Task) {
	ctx, cancel := context.WithTimeout(p.baseCtx, p.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.Error("background task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := task.Fn(ctx); err != nil {
		// A timed-out or failed task is abandoned and logged, not retried
		// inline; periodic sweeps repair whatever state it left behind.
		p.failed.Add(1)
		p.logger.Warn("background task failed",
			zap.String("task", task.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	p.completed.Add(1)
}
