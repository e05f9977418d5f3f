// Package negotiation obtains contract agreements from providers. A
// Negotiator reuses a stored agreement when one exists for the same asset
// and provider, otherwise it starts a negotiation and waits for the
// asynchronous outcome delivered on an EventBus.
package negotiation

import (
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/agreement"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/policy"
)

// EventType is the outcome a negotiation event reports.
type EventType string

// Negotiation outcomes.
const (
	EventConfirmed  EventType = "confirmed"
	EventTerminated EventType = "terminated"
)

// Event reports the end of a negotiation.
type Event struct {
	Type          EventType            `json:"type" msgpack:"type"`
	NegotiationID string               `json:"negotiationId" msgpack:"negotiationId"`
	Agreement     *agreement.Agreement `json:"agreement,omitempty" msgpack:"agreement,omitempty"`
	Reason        string               `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// Request asks a provider for a contract on one of its assets.
type Request struct {
	CounterpartyID  string
	CounterpartyURL string
	AssetID         string
	// OfferID and Policy select the offer to accept. When OfferID is empty
	// the Negotiator picks one through its policy service.
	OfferID string
	Policy  policy.Policy
}
