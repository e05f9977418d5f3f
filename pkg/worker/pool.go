package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/metric"
)

const (
	defaultWorkers   = 10
	defaultQueueSize = 1000
)

// Pool processes items of type T on a fixed set of goroutines.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)

	queue    chan T
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
	metrics  *poolMetrics

	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registrar metric.MetricsRegistrar
	prefix    string
}

type poolMetrics struct {
	queueDepth prometheus.Gauge
	submitted  prometheus.Counter
	dropped    prometheus.Counter
	duration   *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers queue and processing metrics under the given
// prefix. Registration errors disable metrics rather than fail the pool.
func WithMetrics[T any](registrar metric.MetricsRegistrar, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.registrar = registrar
		p.prefix = prefix
	}
}

// WithErrorHandler is called with every item whose processing failed.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) { p.onError = fn }
}

// NewPool creates a pool. Non-positive sizes fall back to defaults; a nil
// processor panics.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if processor == nil {
		panic(ErrNilProcessor)
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		queue:     make(chan T, queueSize),
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registrar != nil && p.prefix != "" {
		p.metrics = p.registerMetrics()
	}
	return p
}

func (p *Pool[T]) registerMetrics() *poolMetrics {
	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: p.prefix + "_queue_depth",
			Help: "Items waiting in the worker pool queue",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_submitted_total",
			Help: "Items accepted by the worker pool",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: p.prefix + "_dropped_total",
			Help: "Items dropped because the queue was full",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    p.prefix + "_processing_duration_seconds",
			Help:    "Time spent processing one item",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"status"}),
	}

	const service = "worker_pool"
	if p.registrar.RegisterGauge(service, p.prefix+"_queue_depth", m.queueDepth) != nil ||
		p.registrar.RegisterCounter(service, p.prefix+"_submitted_total", m.submitted) != nil ||
		p.registrar.RegisterCounter(service, p.prefix+"_dropped_total", m.dropped) != nil ||
		p.registrar.RegisterHistogramVec(service, p.prefix+"_processing_duration_seconds", m.duration) != nil {
		return nil
	}
	return m
}

// Start launches the workers. They exit when ctx ends or Stop is called.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.started = true
	return nil
}

// Submit queues work without blocking.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.accepting(); err != nil {
		return err
	}
	select {
	case p.queue <- work:
		p.accepted()
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// SubmitWait queues work, waiting for room until ctx ends.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.accepting(); err != nil {
		return err
	}
	select {
	case p.queue <- work:
		p.accepted()
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) accepting() error {
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

func (p *Pool[T]) accepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(len(p.queue)))
	}
}

// Stop closes the queue and waits up to timeout for queued items to drain.
// Calling Stop on a pool that was never started, or twice, is a no-op.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	// Release blocked SubmitWait callers before taking the write lock.
	p.quitOnce.Do(func() { close(p.quit) })

	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns the current counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.processor(ctx, work)

	p.processed.Add(1)
	status := "success"
	if err != nil {
		status = "error"
		p.failed.Add(1)
		if p.onError != nil {
			p.onError(work, err)
		}
	}
	if p.metrics != nil {
		p.metrics.queueDepth.Set(float64(len(p.queue)))
		p.metrics.duration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
