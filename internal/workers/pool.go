package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// defaultStopGrace bounds the wait for cancelled tasks once Stop's deadline passed.
const defaultStopGrace = 5 * time.Second

var (
	// ErrQueueFull is returned by Enqueue when every queue slot is taken.
	ErrQueueFull = errors.New("task queue is full")
	// ErrPoolStopped is returned by Enqueue after Stop has been called.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Config bounds the pool.
type Config struct {
	Workers   int
	QueueSize int
	// Timeout limits a single task; zero leaves tasks without a deadline.
	Timeout time.Duration
}

// Pool runs tasks on a fixed number of workers fed by a bounded queue.
// Tasks are executed once; failures are logged and never retried.
type Pool struct {
	logger  *slog.Logger
	workers int
	timeout time.Duration
	grace   time.Duration

	queue  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewPool builds a pool; call Start before enqueuing.
func NewPool(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:  logger.With("component", "workers"),
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		grace:   defaultStopGrace,
		queue:   make(chan Task, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started", "workers", p.workers, "queue", cap(p.queue))
}

// Enqueue schedules a task without blocking.
func (p *Pool) Enqueue(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- task:
		p.logger.Debug("task enqueued", "type", string(task.Type()), "id", task.ID())
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many tasks wait in the queue.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Stop refuses new tasks and lets workers drain the queue. When ctx expires
// first, running tasks are cancelled and ctx.Err() is returned; tasks that
// ignore cancellation are abandoned after a short grace period.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		select {
		case <-done:
		case <-time.After(p.grace):
			p.logger.Warn("worker pool stopped with tasks still running", "grace", p.grace)
		}
		return fmt.Errorf("stop worker pool: %w", ctx.Err())
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.execute(id, task)
	}
}

func (p *Pool) execute(workerID int, task Task) {
	ctx := p.ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	logger := p.logger.With("worker_id", workerID, "type", string(task.Type()), "id", task.ID())
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := task.Execute(ctx); err != nil {
		logger.Error("task failed", "duration", time.Since(start), "error", err)
		return
	}
	logger.Debug("task completed", "duration", time.Since(start))
}
