package policy

import (
	"fmt"
	"sync"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// AcceptedPolicies holds the policy definitions this connector accepts
// when it is not configured to accept every provider offer.
type AcceptedPolicies struct {
	mu          sync.RWMutex
	definitions []Definition
}

// NewAcceptedPolicies seeds the store with the given definitions.
func NewAcceptedPolicies(initial ...Definition) *AcceptedPolicies {
	a := &AcceptedPolicies{}
	for _, d := range initial {
		a.Add(d)
	}
	return a
}

// List returns copies of all definitions in insertion order.
func (a *AcceptedPolicies) List() []Definition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Definition, len(a.definitions))
	for i, d := range a.definitions {
		out[i] = Definition{ID: d.ID, Policy: d.Policy.Clone()}
	}
	return out
}

// Add stores a definition. A definition with the same id is replaced.
func (a *AcceptedPolicies) Add(d Definition) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d.Policy = d.Policy.Clone()
	for i := range a.definitions {
		if a.definitions[i].ID == d.ID {
			a.definitions[i] = d
			return
		}
	}
	a.definitions = append(a.definitions, d)
}

// Update replaces an existing definition.
func (a *AcceptedPolicies) Update(d Definition) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.definitions {
		if a.definitions[i].ID == d.ID {
			a.definitions[i] = Definition{ID: d.ID, Policy: d.Policy.Clone()}
			return nil
		}
	}
	return fmt.Errorf("accepted policy %s: %w", d.ID, errors.ErrNotFound)
}

// Remove deletes a definition by id.
func (a *AcceptedPolicies) Remove(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.definitions {
		if a.definitions[i].ID == id {
			a.definitions = append(a.definitions[:i], a.definitions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("accepted policy %s: %w", id, errors.ErrNotFound)
}

// Accepts reports whether offered is equivalent to any accepted definition.
func (a *AcceptedPolicies) Accepts(offered Policy) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, d := range a.definitions {
		if d.Policy.Equivalent(offered) {
			return true
		}
	}
	return false
}
