package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/policy"
)

// Default policy ids bound to every generated contract definition.
const (
	DefaultAccessPolicyID   = "DEFAULT_ACCESS_POLICY"
	DefaultContractPolicyID = "DEFAULT_CONTRACT_POLICY"

	defaultContentType = "application/json"
)

// ResourceController registers elements as assets with a contract
// definition and removes them again.
type ResourceController struct {
	assets    *AssetIndex
	contracts *ContractDefinitionStore
	policies  *PolicyDefinitionStore
	logger    *slog.Logger
}

// ControllerOption configures a ResourceController.
type ControllerOption func(*ResourceController)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *ResourceController) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultPolicies overrides the access and contract policies stored
// under the default ids.
func WithDefaultPolicies(access, contract policy.Policy) ControllerOption {
	return func(c *ResourceController) {
		c.policies.Save(PolicyDefinition{ID: DefaultAccessPolicyID, Policy: access})
		c.policies.Save(PolicyDefinition{ID: DefaultContractPolicyID, Policy: contract})
	}
}

// NewResourceController wires the stores. Default access and contract
// policies are created unless the policy store already has them.
func NewResourceController(assets *AssetIndex, contracts *ContractDefinitionStore,
	policies *PolicyDefinitionStore, opts ...ControllerOption) *ResourceController {

	c := &ResourceController{
		assets:    assets,
		contracts: contracts,
		policies:  policies,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "resource-controller")

	for _, id := range []string{DefaultAccessPolicyID, DefaultContractPolicyID} {
		if !c.policies.Has(id) {
			c.policies.Save(PolicyDefinition{ID: id, Policy: policy.UsePermission()})
		}
	}
	return c
}

// CreateResource stores r as an asset and offers it under the default
// policies. Registering an id again replaces the asset and its contract
// definitions.
func (c *ResourceController) CreateResource(_ context.Context, r Resource) (assetID, contractID string, err error) {
	if r.SourceURL == "" {
		return "", "", errors.WrapInvalid(errors.ErrMissingAccessURL, "ResourceController", "CreateResource",
			fmt.Sprintf("register %q", r.Name))
	}

	assetID = r.ID
	if assetID == "" {
		assetID = uuid.NewString()
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	contentType := r.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	c.contracts.DeleteForAsset(assetID)
	c.assets.Put(Asset{
		ID:          assetID,
		Name:        r.Name,
		ContentType: contentType,
		DataAddress: DataAddress{SourceURL: r.SourceURL, Path: r.Path, Method: method},
	})

	contractID = uuid.NewString()
	c.contracts.Save(ContractDefinition{
		ID:               contractID,
		AccessPolicyID:   DefaultAccessPolicyID,
		ContractPolicyID: DefaultContractPolicyID,
		AssetID:          assetID,
	})

	c.logger.Debug("Resource registered", "asset_id", assetID, "contract_id", contractID, "name", r.Name)
	return assetID, contractID, nil
}

// DeleteResource removes the asset and every contract definition selecting
// it. Deleting an unknown asset is not an error.
func (c *ResourceController) DeleteResource(_ context.Context, assetID string) error {
	if assetID == "" {
		return nil
	}
	removed := c.contracts.DeleteForAsset(assetID)
	existed := c.assets.Delete(assetID)
	c.logger.Debug("Resource removed", "asset_id", assetID, "existed", existed, "contracts", removed)
	return nil
}
