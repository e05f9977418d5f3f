package negotiation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/agreement"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// Manager starts negotiations. The outcome is reported later as an Event.
type Manager interface {
	// Initiate sends the contract request and returns the negotiation id.
	// An error means the request was rejected before a negotiation existed.
	Initiate(ctx context.Context, req Request) (string, error)
}

// Publisher is where managers report outcomes.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// InMemoryManager keeps negotiations in memory and lets the caller decide
// their outcome. It backs tests and local setups without a connector.
type InMemoryManager struct {
	consumerID string
	events     Publisher
	agreements agreement.Store

	mu      sync.Mutex
	pending map[string]Request
}

// NewInMemoryManager creates a manager signing agreements as consumerID.
// Concluded agreements are saved to agreements before the event is sent.
func NewInMemoryManager(consumerID string, events Publisher, agreements agreement.Store) *InMemoryManager {
	return &InMemoryManager{
		consumerID: consumerID,
		events:     events,
		agreements: agreements,
		pending:    make(map[string]Request),
	}
}

// Initiate implements Manager.
func (m *InMemoryManager) Initiate(_ context.Context, req Request) (string, error) {
	if req.AssetID == "" || req.CounterpartyID == "" {
		return "", errors.WrapInvalid(errors.ErrNegotiationRejected, "InMemoryManager", "Initiate",
			"asset and counterparty are required")
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.pending[id] = req
	m.mu.Unlock()
	return id, nil
}

// Pending lists the ids of unfinished negotiations.
func (m *InMemoryManager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	return ids
}

func (m *InMemoryManager) take(id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.pending[id]
	if !ok {
		return Request{}, fmt.Errorf("negotiation %s: %w", id, errors.ErrNotFound)
	}
	delete(m.pending, id)
	return req, nil
}

// Confirm concludes negotiation id with an agreement on the requested policy.
func (m *InMemoryManager) Confirm(ctx context.Context, id string) (agreement.Agreement, error) {
	req, err := m.take(id)
	if err != nil {
		return agreement.Agreement{}, errors.WrapInvalid(err, "InMemoryManager", "Confirm", "find negotiation")
	}
	a := agreement.Agreement{
		ID:         uuid.NewString(),
		AssetID:    req.AssetID,
		ProviderID: req.CounterpartyID,
		ConsumerID: m.consumerID,
		SignedAt:   time.Now().UTC(),
		Policy:     req.Policy.Clone(),
	}
	if err := m.agreements.Save(ctx, a); err != nil {
		return agreement.Agreement{}, errors.WrapTransient(err, "InMemoryManager", "Confirm", "save agreement")
	}
	ev := Event{Type: EventConfirmed, NegotiationID: id, Agreement: &a}
	if err := m.events.Publish(ctx, ev); err != nil {
		return a, errors.WrapTransient(err, "InMemoryManager", "Confirm", "publish outcome")
	}
	return a, nil
}

// Terminate ends negotiation id without an agreement.
func (m *InMemoryManager) Terminate(ctx context.Context, id, reason string) error {
	if _, err := m.take(id); err != nil {
		return errors.WrapInvalid(err, "InMemoryManager", "Terminate", "find negotiation")
	}
	ev := Event{Type: EventTerminated, NegotiationID: id, Reason: reason}
	if err := m.events.Publish(ctx, ev); err != nil {
		return errors.WrapTransient(err, "InMemoryManager", "Terminate", "publish outcome")
	}
	return nil
}
