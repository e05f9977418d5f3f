// Package catalog is the connector's internal resource index: the assets it
// offers, the contract definitions that offer them and the policies those
// definitions reference.
package catalog

import (
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/policy"
)

// DataAddress locates the payload of an asset on the remote AAS service.
type DataAddress struct {
	SourceURL string `json:"sourceUrl"`
	Path      string `json:"path"`
	Method    string `json:"method"`
}

// Asset is one offerable resource.
type Asset struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	ContentType string      `json:"contentType"`
	DataAddress DataAddress `json:"dataAddress"`
}

// ContractDefinition offers the assets it selects under an access and a
// contract policy.
type ContractDefinition struct {
	ID               string `json:"id"`
	AccessPolicyID   string `json:"accessPolicyId"`
	ContractPolicyID string `json:"contractPolicyId"`
	AssetID          string `json:"assetId"`
}

// PolicyDefinition is a stored, named policy.
type PolicyDefinition struct {
	ID     string        `json:"id"`
	Policy policy.Policy `json:"policy"`
}

// Resource describes an element to register as an asset.
type Resource struct {
	// ID becomes the asset id. A fresh id is generated when empty.
	ID          string
	SourceURL   string
	Path        string
	Method      string
	Name        string
	ContentType string
}
