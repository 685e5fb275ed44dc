// Package workers runs queued jobs on a fixed number of goroutines. The
// queue is bounded, each worker reports what it is doing, and shutdown
// drains the queue up to a deadline.
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

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("work queue is full")
	// ErrStopped is returned by Submit after Shutdown.
	ErrStopped = errors.New("work queue is stopped")
)

// State is the activity of one worker.
type State int

const (
	StateWaiting State = iota
	StateWorking
	StateStalled
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateWorking:
		return "working"
	case StateStalled:
		return "stalled"
	}
	return "unknown"
}

// Status is a snapshot of one worker.
type Status struct {
	Name    string
	State   State
	Started time.Time
}

// Handler processes one job. ctx is cancelled when a shutdown times out.
type Handler[T any] func(ctx context.Context, job T) error

// Options configures a pool.
type Options struct {
	// Workers is the number of goroutines. Defaults to 1.
	Workers int
	// QueueSize bounds the number of waiting jobs. Defaults to 100.
	QueueSize int
	// StallAfter marks a worker stalled once one job runs longer. 0 disables
	// stall detection.
	StallAfter time.Duration
}

type worker struct {
	name    string
	mu      sync.Mutex
	working bool
	started time.Time
}

// Pool is a bounded job queue served by a fixed set of workers.
type Pool[T any] struct {
	name    string
	handler Handler[T]
	opts    Options
	logger  *slog.Logger

	queue  chan T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	workers []*worker
}

// New creates a stopped pool. Call Start to launch the workers.
func New[T any](name string, opts Options, handler Handler[T]) *Pool[T] {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		name:    name,
		handler: handler,
		opts:    opts,
		logger:  slog.Default(),
		queue:   make(chan T, opts.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetLogger sets the logger for job failures.
func (p *Pool[T]) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	p.logger = logger
}

// Start launches the workers.
func (p *Pool[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.opts.Workers; i++ {
		w := &worker{name: fmt.Sprintf("%s-%d", p.name, i)}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go p.run(w)
	}
}

// Submit queues job without blocking.
func (p *Pool[T]) Submit(job T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of queued jobs.
func (p *Pool[T]) Len() int { return len(p.queue) }

func (p *Pool[T]) run(w *worker) {
	defer p.wg.Done()
	for job := range p.queue {
		w.mu.Lock()
		w.working, w.started = true, time.Now()
		w.mu.Unlock()

		if err := p.process(job); err != nil {
			p.logger.Error("Job failed", "pool", p.name, "worker", w.name, "error", err)
		}

		w.mu.Lock()
		w.working = false
		w.mu.Unlock()
	}
}

// process runs the handler in a panic envelope.
func (p *Pool[T]) process(job T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p.handler(p.ctx, job)
}

// Status returns a snapshot of every worker.
func (p *Pool[T]) Status() []Status {
	p.mu.RLock()
	workers := p.workers
	p.mu.RUnlock()

	now := time.Now()
	out := make([]Status, len(workers))
	for i, w := range workers {
		w.mu.Lock()
		s := Status{Name: w.name, State: StateWaiting}
		if w.working {
			s.State, s.Started = StateWorking, w.started
			if p.opts.StallAfter > 0 && now.Sub(w.started) > p.opts.StallAfter {
				s.State = StateStalled
			}
		}
		w.mu.Unlock()
		out[i] = s
	}
	return out
}

// Stalled returns the workers whose current job exceeds StallAfter.
func (p *Pool[T]) Stalled() []Status {
	var out []Status
	for _, s := range p.Status() {
		if s.State == StateStalled {
			out = append(out, s)
		}
	}
	return out
}

// Shutdown stops accepting jobs and waits for the queue to drain. When ctx
// ends first the context of running jobs is cancelled, queued jobs are
// dropped and ctx's error is returned.
func (p *Pool[T]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		dropped := 0
		for range p.queue {
			dropped++
		}
		if dropped > 0 {
			p.logger.Warn("Dropped queued jobs on shutdown", "pool", p.name, "count", dropped)
		}
		return ctx.Err()
	}
}
