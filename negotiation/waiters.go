package negotiation

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultParkSize = 1024
	defaultParkTTL  = 5 * time.Minute
)

// Waiters routes negotiation events to the goroutine waiting on them.
//
// An event can arrive before its waiter registers, since the negotiation id
// is only known once Initiate returns; such events are parked for a while
// and handed over on registration. Events for ids whose wait already ended
// are dropped.
type Waiters struct {
	mu      sync.Mutex
	waiting map[string]chan Event

	parked   *expirable.LRU[string, Event]
	finished *expirable.LRU[string, struct{}]
}

// NewWaiters creates a registry. Parked and finished ids are kept for ttl,
// at most size of each.
func NewWaiters(size int, ttl time.Duration) *Waiters {
	if size <= 0 {
		size = defaultParkSize
	}
	if ttl <= 0 {
		ttl = defaultParkTTL
	}
	return &Waiters{
		waiting:  make(map[string]chan Event),
		parked:   expirable.NewLRU[string, Event](size, nil, ttl),
		finished: expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

func (w *Waiters) register(id string) <-chan Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan Event, 1)
	if ev, ok := w.parked.Get(id); ok {
		w.parked.Remove(id)
		ch <- ev
	}
	w.waiting[id] = ch
	return ch
}

func (w *Waiters) unregister(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.waiting, id)
	w.finished.Add(id, struct{}{})
}

// Deliver hands ev to its waiter. It reports whether a waiter received it.
func (w *Waiters) Deliver(ev Event) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ch, ok := w.waiting[ev.NegotiationID]; ok {
		select {
		case ch <- ev:
			return true
		default:
			// An outcome is already pending; negotiations end once.
			return false
		}
	}
	if w.finished.Contains(ev.NegotiationID) {
		return false
	}
	w.parked.Add(ev.NegotiationID, ev)
	return false
}

// Wait blocks until the negotiation with the given id ends, timeout passes
// or ctx ends. The waiter is removed on every path.
func (w *Waiters) Wait(ctx context.Context, id string, timeout time.Duration) (Event, error) {
	ch := w.register(id)
	defer w.unregister(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return Event{}, &TimeoutError{NegotiationID: id}
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Pending returns the number of active waiters.
func (w *Waiters) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiting)
}
