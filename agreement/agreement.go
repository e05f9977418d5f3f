// Package agreement stores the contract agreements this connector has
// concluded, so repeated requests for the same asset reuse them.
package agreement

import (
	"context"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/policy"
)

// Agreement is a concluded contract for one asset with one provider.
type Agreement struct {
	ID         string        `json:"id"`
	AssetID    string        `json:"assetId"`
	ProviderID string        `json:"providerId"`
	ConsumerID string        `json:"consumerId"`
	SignedAt   time.Time     `json:"signedAt"`
	Policy     policy.Policy `json:"policy"`
}

// Filter selects agreements. Empty fields match anything.
type Filter struct {
	AssetID    string
	ProviderID string
}

// Matches reports whether a satisfies the filter.
func (f Filter) Matches(a Agreement) bool {
	return (f.AssetID == "" || f.AssetID == a.AssetID) &&
		(f.ProviderID == "" || f.ProviderID == a.ProviderID)
}

// Store persists agreements.
type Store interface {
	// Query returns matching agreements, oldest first.
	Query(ctx context.Context, f Filter) ([]Agreement, error)
	// Save inserts a or replaces the agreement with the same id.
	Save(ctx context.Context, a Agreement) error
	// Delete removes the agreement with the given id. Unknown ids are ignored.
	Delete(ctx context.Context, id string) error
}
