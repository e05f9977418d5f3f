package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// AssetIndex stores assets by id.
type AssetIndex struct {
	mu     sync.RWMutex
	assets map[string]Asset
}

// NewAssetIndex creates an empty index.
func NewAssetIndex() *AssetIndex {
	return &AssetIndex{assets: make(map[string]Asset)}
}

// Put stores a, replacing any asset with the same id.
func (x *AssetIndex) Put(a Asset) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.assets[a.ID] = a
}

// Get returns the asset with the given id.
func (x *AssetIndex) Get(id string) (Asset, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	a, ok := x.assets[id]
	if !ok {
		return Asset{}, fmt.Errorf("asset %s: %w", id, errors.ErrNotFound)
	}
	return a, nil
}

// Delete removes an asset. It reports whether the asset existed.
func (x *AssetIndex) Delete(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.assets[id]
	delete(x.assets, id)
	return ok
}

// List returns all assets ordered by id.
func (x *AssetIndex) List() []Asset {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Asset, 0, len(x.assets))
	for _, a := range x.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of assets.
func (x *AssetIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.assets)
}

// ContractDefinitionStore stores contract definitions by id.
type ContractDefinitionStore struct {
	mu          sync.RWMutex
	definitions map[string]ContractDefinition
}

// NewContractDefinitionStore creates an empty store.
func NewContractDefinitionStore() *ContractDefinitionStore {
	return &ContractDefinitionStore{definitions: make(map[string]ContractDefinition)}
}

// Save stores d, replacing any definition with the same id.
func (s *ContractDefinitionStore) Save(d ContractDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[d.ID] = d
}

// ForAsset returns the definitions selecting assetID, ordered by id.
func (s *ContractDefinitionStore) ForAsset(assetID string) []ContractDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ContractDefinition
	for _, d := range s.definitions {
		if d.AssetID == assetID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteForAsset removes every definition selecting assetID and returns
// how many were removed.
func (s *ContractDefinitionStore) DeleteForAsset(assetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, d := range s.definitions {
		if d.AssetID == assetID {
			delete(s.definitions, id)
			n++
		}
	}
	return n
}

// Len returns the number of definitions.
func (s *ContractDefinitionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.definitions)
}

// PolicyDefinitionStore stores policy definitions by id.
type PolicyDefinitionStore struct {
	mu       sync.RWMutex
	policies map[string]PolicyDefinition
}

// NewPolicyDefinitionStore creates an empty store.
func NewPolicyDefinitionStore() *PolicyDefinitionStore {
	return &PolicyDefinitionStore{policies: make(map[string]PolicyDefinition)}
}

// Save stores p, replacing any definition with the same id.
func (s *PolicyDefinitionStore) Save(p PolicyDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Policy = p.Policy.Clone()
	s.policies[p.ID] = p
}

// Get returns the definition with the given id.
func (s *PolicyDefinitionStore) Get(id string) (PolicyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return PolicyDefinition{}, fmt.Errorf("policy definition %s: %w", id, errors.ErrNotFound)
	}
	return PolicyDefinition{ID: p.ID, Policy: p.Policy.Clone()}, nil
}

// Has reports whether a definition with the given id exists.
func (s *PolicyDefinitionStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.policies[id]
	return ok
}
