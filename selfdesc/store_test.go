package selfdesc

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

type recordingListener struct {
	mu      sync.Mutex
	name    string
	events  *[]string
	store   Store
	seenEnv *aas.Environment
	fail    error
}

func (l *recordingListener) Created(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.events = append(*l.events, l.name+":created:"+url)
	return l.fail
}

func (l *recordingListener) Removed(ctx context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.events = append(*l.events, l.name+":removed:"+url)
	if l.store != nil {
		if sd, err := l.store.Get(ctx, url); err == nil {
			l.seenEnv = sd.Environment
		}
	}
	return l.fail
}

func sampleEnvironment() *aas.Environment {
	env := aas.NewEnvironment()
	env.Submodels = append(env.Submodels, &aas.Submodel{
		Node: aas.Node{IDShort: "Nameplate"},
		ID:   "urn:sm:1",
		Elements: []*aas.SubmodelElement{
			{Node: aas.Node{IDShort: "Serial"}, Kind: aas.KindProperty},
		},
	})
	return env
}

// runStoreTests checks the behavior every Store implementation shares.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	const url = "http://aas.example:8443/api/v3.0"

	t.Run("create registers empty environment", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, url+"/"))

		sd, err := s.Get(ctx, url)
		require.NoError(t, err)
		assert.Equal(t, url, sd.URL)
		require.NotNil(t, sd.Environment)
		assert.Empty(t, sd.Environment.Submodels)

		urls, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{url}, urls)
	})

	t.Run("create existing is a no-op", func(t *testing.T) {
		s := newStore(t)
		var events []string
		s.RegisterListener(&recordingListener{name: "a", events: &events})

		require.NoError(t, s.Create(ctx, url))
		require.NoError(t, s.Update(ctx, url, sampleEnvironment()))
		require.NoError(t, s.Create(ctx, url))

		sd, err := s.Get(ctx, url)
		require.NoError(t, err)
		assert.Len(t, sd.Environment.Submodels, 1)
		assert.Equal(t, []string{"a:created:" + url}, events)
	})

	t.Run("create without url is invalid", func(t *testing.T) {
		s := newStore(t)
		err := s.Create(ctx, "  ")
		assert.ErrorIs(t, err, errors.ErrMissingAccessURL)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("get unknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, url)
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("update replaces environment", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, url))
		env := sampleEnvironment()
		require.NoError(t, s.Update(ctx, url, env))

		env.Submodels[0].IDShort = "mutated after update"

		sd, err := s.Get(ctx, url)
		require.NoError(t, err)
		require.Len(t, sd.Environment.Submodels, 1)
		assert.Equal(t, "Nameplate", sd.Environment.Submodels[0].IDShort)
		require.Len(t, sd.Environment.Submodels[0].Elements, 1)
		assert.Equal(t, "Serial", sd.Environment.Submodels[0].Elements[0].IDShort)
	})

	t.Run("update unknown", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Update(ctx, url, sampleEnvironment()), errors.ErrNotFound)
	})

	t.Run("remove notifies before delete", func(t *testing.T) {
		s := newStore(t)
		var events []string
		first := &recordingListener{name: "first", events: &events, store: s}
		s.RegisterListener(first)
		s.RegisterListener(&recordingListener{name: "second", events: &events})

		require.NoError(t, s.Create(ctx, url))
		require.NoError(t, s.Update(ctx, url, sampleEnvironment()))
		require.NoError(t, s.Remove(ctx, url))

		assert.Equal(t, []string{
			"first:created:" + url,
			"second:created:" + url,
			"first:removed:" + url,
			"second:removed:" + url,
		}, events)
		require.NotNil(t, first.seenEnv)
		assert.Len(t, first.seenEnv.Submodels, 1)

		_, err := s.Get(ctx, url)
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("remove unknown", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Remove(ctx, url), errors.ErrNotFound)
	})

	t.Run("listener errors are reported", func(t *testing.T) {
		s := newStore(t)
		var events []string
		boom := stderrors.New("listener failed")
		s.RegisterListener(&recordingListener{name: "a", events: &events, fail: boom})
		s.RegisterListener(&recordingListener{name: "b", events: &events})

		assert.ErrorIs(t, s.Create(ctx, url), boom)
		assert.ErrorIs(t, s.Remove(ctx, url), boom)
		assert.Len(t, events, 4)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ConcurrentReadersSeeWholeRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	const url = "http://aas.example"
	require.NoError(t, s.Create(ctx, url))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Update(ctx, url, sampleEnvironment())
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sd, err := s.Get(ctx, url)
				if assert.NoError(t, err) && len(sd.Environment.Submodels) > 0 {
					assert.Len(t, sd.Environment.Submodels[0].Elements, 1)
				}
			}
		}()
	}
	wg.Wait()
}
