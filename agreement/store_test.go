package agreement

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/policy"
)

func sample(id, asset, provider string, signed time.Time) Agreement {
	return Agreement{
		ID:         id,
		AssetID:    asset,
		ProviderID: provider,
		ConsumerID: "consumer",
		SignedAt:   signed,
		Policy:     policy.UsePermission(),
	}
}

func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("query by asset and provider", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, sample("a1", "asset-1", "p1", base)))
		require.NoError(t, s.Save(ctx, sample("a2", "asset-1", "p2", base.Add(time.Second))))
		require.NoError(t, s.Save(ctx, sample("a3", "asset-2", "p1", base.Add(2*time.Second))))

		got, err := s.Query(ctx, Filter{AssetID: "asset-1", ProviderID: "p1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a1", got[0].ID)
		assert.True(t, got[0].Policy.Equivalent(policy.UsePermission()))
		assert.True(t, base.Equal(got[0].SignedAt))

		got, err = s.Query(ctx, Filter{AssetID: "asset-1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a1", got[0].ID)
		assert.Equal(t, "a2", got[1].ID)

		got, err = s.Query(ctx, Filter{})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("empty result is not nil", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Query(ctx, Filter{AssetID: "nothing"})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("save replaces by id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, sample("a1", "asset-1", "p1", base)))
		updated := sample("a1", "asset-1", "p1", base)
		updated.Policy = policy.Policy{Prohibitions: []policy.Rule{{Action: "distribute"}}}
		require.NoError(t, s.Save(ctx, updated))

		got, err := s.Query(ctx, Filter{AssetID: "asset-1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Policy.Equivalent(updated.Policy))
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(ctx, sample("a1", "asset-1", "p1", base)))
		require.NoError(t, s.Delete(ctx, "a1"))
		require.NoError(t, s.Delete(ctx, "a1"))

		got, err := s.Query(ctx, Filter{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestSQLStore_SQLite(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := OpenSQLStore(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "agreements.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLStore_InMemorySQLite(t *testing.T) {
	s, err := OpenSQLStore(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))

	require.NoError(t, s.Save(context.Background(), sample("a1", "asset-1", "p1", time.Now())))
	got, err := s.Query(context.Background(), Filter{ProviderID: "p1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "agreements.db")

	s, err := OpenSQLStore(ctx, DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sample("a1", "asset-1", "p1", time.Now())))
	require.NoError(t, s.Close())

	s, err = OpenSQLStore(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Query(ctx, Filter{AssetID: "asset-1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenSQLStore_InvalidConfig(t *testing.T) {
	_, err := OpenSQLStore(context.Background(), "mysql", "x")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.True(t, errors.IsFatal(err))

	_, err = OpenSQLStore(context.Background(), DriverPostgres, "")
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestSQLStore_Placeholders(t *testing.T) {
	assert.Equal(t, "?", (&SQLStore{driver: DriverSQLite}).placeholder(2))
	assert.Equal(t, "$2", (&SQLStore{driver: DriverPostgres}).placeholder(2))
}
