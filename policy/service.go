package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// CatalogClient requests a provider catalog filtered to one asset.
type CatalogClient interface {
	RequestCatalog(ctx context.Context, counterpartyID, counterpartyURL, assetID string) (*Catalog, error)
}

// Config controls offer selection.
type Config struct {
	// CatalogTimeout bounds the wait for a provider catalog.
	CatalogTimeout time.Duration
	// AcceptAllOffers selects the first offer regardless of its policy.
	AcceptAllOffers bool
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{CatalogTimeout: 10 * time.Second}
}

// Service finds the dataset and an acceptable offer for a provider asset.
type Service struct {
	catalogs CatalogClient
	accepted *AcceptedPolicies
	config   Config
	logger   *slog.Logger
}

// NewService wires a policy service. accepted may be nil when every offer
// is accepted.
func NewService(catalogs CatalogClient, accepted *AcceptedPolicies, cfg Config, logger *slog.Logger) *Service {
	if accepted == nil {
		accepted = NewAcceptedPolicies()
	}
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = DefaultConfig().CatalogTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalogs: catalogs,
		accepted: accepted,
		config:   cfg,
		logger:   logger.With("component", "policy-service"),
	}
}

// Accepted exposes the accepted policy definitions.
func (s *Service) Accepted() *AcceptedPolicies {
	return s.accepted
}

// DatasetForAsset fetches the provider catalog for assetID and returns its
// single dataset.
func (s *Service) DatasetForAsset(ctx context.Context, counterpartyID, counterpartyURL, assetID string) (*Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.CatalogTimeout)
	defer cancel()

	catalog, err := s.catalogs.RequestCatalog(ctx, counterpartyID, counterpartyURL, assetID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.WrapTransient(fmt.Errorf("%w: catalog by provider %s", errors.ErrConnectionTimeout, counterpartyURL),
				"PolicyService", "DatasetForAsset", "wait for catalog")
		}
		return nil, errors.WrapTransient(err, "PolicyService", "DatasetForAsset",
			fmt.Sprintf("fetch catalog by provider %s", counterpartyURL))
	}

	if catalog == nil || len(catalog.Datasets) != 1 {
		count := 0
		if catalog != nil {
			count = len(catalog.Datasets)
		}
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: found %d datasets for asset %s", errors.ErrAmbiguousOrNull, count, assetID),
			"PolicyService", "DatasetForAsset", "select dataset")
	}
	dataset := catalog.Datasets[0]
	return &dataset, nil
}

// AcceptablePolicy picks the offer to negotiate for assetID. With
// AcceptAllOffers the provider's first offer wins; otherwise the first offer
// equivalent to an accepted definition does.
func (s *Service) AcceptablePolicy(ctx context.Context, counterpartyID, counterpartyURL, assetID string) (Offer, error) {
	dataset, err := s.DatasetForAsset(ctx, counterpartyID, counterpartyURL, assetID)
	if err != nil {
		return Offer{}, err
	}

	for _, offer := range dataset.Offers {
		if s.config.AcceptAllOffers || s.accepted.Accepts(offer.Policy) {
			s.logger.Debug("Selected offer", "asset_id", assetID, "offer_id", offer.ID,
				"accept_all", s.config.AcceptAllOffers)
			return offer, nil
		}
	}

	return Offer{}, errors.WrapInvalid(
		fmt.Errorf("%w: asset %s offers %d policies", errors.ErrNoAcceptablePolicy, assetID, len(dataset.Offers)),
		"PolicyService", "AcceptablePolicy", "match offers")
}
