package negotiation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/metric"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pkg/worker"
)

// Handler consumes negotiation events.
type Handler func(ctx context.Context, ev Event) error

// EventBus fans negotiation events out to subscribed handlers on a worker
// pool, so publishers never run handler code.
type EventBus struct {
	pool   *worker.Pool[Event]
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []Handler
}

// BusOption configures an EventBus.
type BusOption func(*busConfig)

type busConfig struct {
	workers   int
	queueSize int
	registrar metric.MetricsRegistrar
	logger    *slog.Logger
}

// WithBusWorkers sets the number of delivery goroutines and the queue size.
func WithBusWorkers(workers, queueSize int) BusOption {
	return func(c *busConfig) {
		c.workers = workers
		c.queueSize = queueSize
	}
}

// WithBusMetrics registers delivery metrics.
func WithBusMetrics(registrar metric.MetricsRegistrar) BusOption {
	return func(c *busConfig) { c.registrar = registrar }
}

// WithBusLogger sets the logger.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewEventBus creates a bus. Call Start before publishing.
func NewEventBus(opts ...BusOption) *EventBus {
	cfg := busConfig{workers: 4, queueSize: 256, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	b := &EventBus{logger: cfg.logger.With("component", "negotiation-events")}
	poolOpts := []worker.Option[Event]{
		worker.WithErrorHandler(func(ev Event, err error) {
			b.logger.Warn("Event handler failed", "negotiation_id", ev.NegotiationID,
				"type", ev.Type, "error", err)
		}),
	}
	if cfg.registrar != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[Event](cfg.registrar, "aasbridge_negotiation_events"))
	}
	b.pool = worker.NewPool(cfg.workers, cfg.queueSize, b.dispatch, poolOpts...)
	return b
}

// Subscribe adds a handler. Handlers see an event in subscription order;
// separate events are dispatched concurrently.
func (b *EventBus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Start starts delivery.
func (b *EventBus) Start(ctx context.Context) error {
	return b.pool.Start(ctx)
}

// Stop drains queued events for up to timeout.
func (b *EventBus) Stop(timeout time.Duration) error {
	return b.pool.Stop(timeout)
}

// Publish queues ev, blocking while the queue is full.
func (b *EventBus) Publish(ctx context.Context, ev Event) error {
	return b.pool.SubmitWait(ctx, ev)
}

func (b *EventBus) dispatch(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	var first error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
