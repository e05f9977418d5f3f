package policy

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

type fakeCatalogs struct {
	catalog *Catalog
	err     error
	block   bool
	calls   int
}

func (f *fakeCatalogs) RequestCatalog(ctx context.Context, _, _, _ string) (*Catalog, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.catalog, f.err
}

var restricted = Policy{Permissions: []Rule{{Action: "use", Constraints: []Constraint{
	{LeftOperand: "purpose", Operator: "eq", RightOperand: "research"},
}}}}

func singleDataset(offers ...Offer) *Catalog {
	return &Catalog{Datasets: []Dataset{{ID: "asset-1", Offers: offers}}}
}

func TestService_DatasetForAsset(t *testing.T) {
	ctx := context.Background()

	t.Run("exactly one dataset", func(t *testing.T) {
		svc := NewService(&fakeCatalogs{catalog: singleDataset(Offer{ID: "o1"})}, nil, DefaultConfig(), nil)
		ds, err := svc.DatasetForAsset(ctx, "provider", "http://provider/api/dsp", "asset-1")
		require.NoError(t, err)
		assert.Equal(t, "asset-1", ds.ID)
	})

	t.Run("no dataset", func(t *testing.T) {
		svc := NewService(&fakeCatalogs{catalog: &Catalog{}}, nil, DefaultConfig(), nil)
		_, err := svc.DatasetForAsset(ctx, "provider", "http://provider", "asset-1")
		assert.ErrorIs(t, err, errors.ErrAmbiguousOrNull)
	})

	t.Run("nil catalog", func(t *testing.T) {
		svc := NewService(&fakeCatalogs{}, nil, DefaultConfig(), nil)
		_, err := svc.DatasetForAsset(ctx, "provider", "http://provider", "asset-1")
		assert.ErrorIs(t, err, errors.ErrAmbiguousOrNull)
	})

	t.Run("several datasets", func(t *testing.T) {
		svc := NewService(&fakeCatalogs{catalog: &Catalog{Datasets: []Dataset{{ID: "a"}, {ID: "b"}}}}, nil, DefaultConfig(), nil)
		_, err := svc.DatasetForAsset(ctx, "provider", "http://provider", "asset-1")
		assert.ErrorIs(t, err, errors.ErrAmbiguousOrNull)
	})

	t.Run("catalog error", func(t *testing.T) {
		boom := stderrors.New("boom")
		svc := NewService(&fakeCatalogs{err: boom}, nil, DefaultConfig(), nil)
		_, err := svc.DatasetForAsset(ctx, "provider", "http://provider", "asset-1")
		assert.ErrorIs(t, err, boom)
		assert.True(t, errors.IsTransient(err))
	})

	t.Run("catalog timeout", func(t *testing.T) {
		svc := NewService(&fakeCatalogs{block: true}, nil, Config{CatalogTimeout: 20 * time.Millisecond}, nil)
		start := time.Now()
		_, err := svc.DatasetForAsset(ctx, "provider", "http://provider", "asset-1")
		assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestService_AcceptablePolicy(t *testing.T) {
	ctx := context.Background()
	offers := []Offer{
		{ID: "o1", Policy: restricted},
		{ID: "o2", Policy: UsePermission()},
	}

	t.Run("accept all picks first offer", func(t *testing.T) {
		svc := NewService(&fakeCatalogs{catalog: singleDataset(offers...)}, nil, Config{AcceptAllOffers: true}, nil)
		offer, err := svc.AcceptablePolicy(ctx, "provider", "http://provider", "asset-1")
		require.NoError(t, err)
		assert.Equal(t, "o1", offer.ID)
	})

	t.Run("first offer matching an accepted definition", func(t *testing.T) {
		accepted := NewAcceptedPolicies(Definition{ID: "mine", Policy: UsePermission()})
		svc := NewService(&fakeCatalogs{catalog: singleDataset(offers...)}, accepted, DefaultConfig(), nil)
		offer, err := svc.AcceptablePolicy(ctx, "provider", "http://provider", "asset-1")
		require.NoError(t, err)
		assert.Equal(t, "o2", offer.ID)
	})

	t.Run("nothing acceptable", func(t *testing.T) {
		accepted := NewAcceptedPolicies(Definition{ID: "mine", Policy: Policy{Prohibitions: []Rule{{Action: "use"}}}})
		svc := NewService(&fakeCatalogs{catalog: singleDataset(offers...)}, accepted, DefaultConfig(), nil)
		_, err := svc.AcceptablePolicy(ctx, "provider", "http://provider", "asset-1")
		assert.ErrorIs(t, err, errors.ErrNoAcceptablePolicy)
	})

	t.Run("accept all with no offers", func(t *testing.T) {
		svc := NewService(&fakeCatalogs{catalog: singleDataset()}, nil, Config{AcceptAllOffers: true}, nil)
		_, err := svc.AcceptablePolicy(ctx, "provider", "http://provider", "asset-1")
		assert.ErrorIs(t, err, errors.ErrNoAcceptablePolicy)
	})
}
