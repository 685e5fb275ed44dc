package messagebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/workers"
)

// InternalBus hands messages to listeners registered in the same process.
// Each message is delivered to every listener by one pool worker, so the
// listeners see the messages of one worker in order.
type InternalBus struct {
	pool   *workers.Pool[*model.EntityChangedMessage]
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// NewInternalBus creates and starts an in-process bus.
func NewInternalBus(opts workers.Options) *InternalBus {
	b := &InternalBus{logger: slog.Default()}
	b.pool = workers.New("internal-bus", opts, b.deliver)
	b.pool.Start()
	return b
}

// SetLogger sets the logger for failed deliveries.
func (b *InternalBus) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	b.logger = logger
	b.pool.SetLogger(logger)
}

// Subscribe registers l for every later message.
func (b *InternalBus) Subscribe(l Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

func (b *InternalBus) deliver(ctx context.Context, msg *model.EntityChangedMessage) error {
	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := l(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publish queues msgs for the listeners.
func (b *InternalBus) Publish(_ context.Context, msgs []*model.EntityChangedMessage) error {
	return submitAll(b.pool, msgs)
}

// Status reports the state of the delivery workers.
func (b *InternalBus) Status() []workers.Status { return b.pool.Status() }

// Close drains the queue.
func (b *InternalBus) Close(ctx context.Context) error {
	return b.pool.Shutdown(ctx)
}

func submitAll(pool *workers.Pool[*model.EntityChangedMessage], msgs []*model.EntityChangedMessage) error {
	dropped := 0
	for _, msg := range msgs {
		switch err := pool.Submit(msg); {
		case err == nil:
		case errors.Is(err, workers.ErrStopped):
			return ErrClosed
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: dropped %d of %d messages", workers.ErrQueueFull, dropped, len(msgs))
	}
	return nil
}
