package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull        = errors.New("event queue full")
	ErrDispatcherClosed = errors.New("event dispatcher closed")
)

type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	PublishTimeout time.Duration
	Logger         *logrus.Logger
}

// Dispatcher queues events and hands them to the wrapped publisher from a
// fixed pool of workers, so callers never wait on the broker.
type Dispatcher struct {
	cfg  DispatcherConfig
	next Publisher

	queue chan Event
	wg    sync.WaitGroup
	mu    sync.RWMutex

	started bool
	closed  bool
}

func NewDispatcher(cfg DispatcherConfig, next Publisher) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Dispatcher{
		cfg:   cfg,
		next:  next,
		queue: make(chan Event, cfg.QueueSize),
	}
}

// Start launches the workers. Cancelling ctx does not abort delivery of
// queued events; Close drains them.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	base := context.WithoutCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work(base)
	}
	d.cfg.Logger.Infof("event dispatcher started (%d workers)", d.cfg.Workers)
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for event := range d.queue {
		pubCtx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
		if err := d.next.Publish(pubCtx, event); err != nil {
			d.cfg.Logger.WithError(err).WithFields(logrus.Fields{
				"event":   event.Type,
				"user_id": event.UserID,
			}).Warn("event dropped")
		}
		cancel()
	}
}

// Publish enqueues event without blocking.
func (d *Dispatcher) Publish(_ context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	select {
	case d.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events, waits for queued ones to be delivered and
// closes the wrapped publisher.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.cfg.Logger.Info("event dispatcher stopped")
	return d.next.Close()
}

var _ Publisher = (*Dispatcher)(nil)
