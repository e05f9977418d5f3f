// Package worker provides a bounded, generic worker pool.
//
// A Pool runs a fixed number of goroutines that pull items off a buffered
// queue and hand them to a processor function. Submit never blocks and drops
// the item when the queue is full; SubmitWait blocks until there is room or
// the context ends. Processor errors are counted and passed to an optional
// error handler, they never stop a worker.
//
//	pool := worker.NewPool(4, 64, deliver,
//		worker.WithMetrics[Event](registry, "negotiation_events"),
//		worker.WithErrorHandler(func(e Event, err error) { logger.Warn("delivery failed", "error", err) }),
//	)
//	if err := pool.Start(ctx); err != nil { ... }
//	defer pool.Stop(5 * time.Second)
package worker
