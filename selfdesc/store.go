// Package selfdesc keeps the last-known environment of every registered
// remote service and tells listeners when services come and go.
package selfdesc

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
)

// SelfDescription is the record kept per remote service. Records handed out by
// a Store are copies; mutating them does not affect the store.
type SelfDescription struct {
	URL         string           `msgpack:"url"`
	Environment *aas.Environment `msgpack:"environment"`
	UpdatedAt   time.Time        `msgpack:"updatedAt"`
}

func (sd *SelfDescription) clone() *SelfDescription {
	c := *sd
	c.Environment = sd.Environment.Clone()
	return &c
}

// Listener reacts to service registration and de-registration.
type Listener interface {
	Created(ctx context.Context, url string) error
	Removed(ctx context.Context, url string) error
}

// Store is the keyed self-description state. Readers always observe either
// the old or the new record for a key, never a partially written one.
type Store interface {
	// Create registers url with an empty environment and notifies listeners.
	// Creating an existing url is a no-op.
	Create(ctx context.Context, url string) error
	// Get returns the record for url or errors.ErrNotFound.
	Get(ctx context.Context, url string) (*SelfDescription, error)
	// List returns the urls of all registered services.
	List(ctx context.Context) ([]string, error)
	// Update atomically replaces the environment stored for url.
	Update(ctx context.Context, url string, env *aas.Environment) error
	// Remove notifies listeners, then deletes the record for url.
	Remove(ctx context.Context, url string) error
	// RegisterListener adds a listener. Listeners are called synchronously
	// in registration order.
	RegisterListener(l Listener)
}

// normalize maps equivalent spellings of a service url to one key.
func normalize(url string) string {
	return aas.NewService(url).Key()
}

type listeners struct {
	mu   sync.RWMutex
	list []Listener
}

func (l *listeners) add(listener Listener) {
	if listener == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, listener)
}

func (l *listeners) snapshot() []Listener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Listener(nil), l.list...)
}

func (l *listeners) created(ctx context.Context, url string) error {
	var errs []error
	for _, listener := range l.snapshot() {
		if err := listener.Created(ctx, url); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (l *listeners) removed(ctx context.Context, url string) error {
	var errs []error
	for _, listener := range l.snapshot() {
		if err := listener.Removed(ctx, url); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
