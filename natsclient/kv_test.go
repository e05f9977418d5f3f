package natsclient

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct {
	jetstream.KeyValueEntry
	value    []byte
	revision uint64
}

func (e fakeEntry) Value() []byte    { return e.value }
func (e fakeEntry) Revision() uint64 { return e.revision }

// fakeBucket is an in-memory jetstream.KeyValue covering the calls KVStore makes.
type fakeBucket struct {
	jetstream.KeyValue
	mu       sync.Mutex
	data     map[string]fakeEntry
	rev      uint64
	conflict int // number of Update calls that fail with a conflict
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{data: map[string]fakeEntry{}}
}

func (b *fakeBucket) Bucket() string { return "test" }

func (b *fakeBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return e, nil
}

func (b *fakeBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rev++
	b.data[key] = fakeEntry{value: value, revision: b.rev}
	return b.rev, nil
}

func (b *fakeBucket) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	b.rev++
	b.data[key] = fakeEntry{value: value, revision: b.rev}
	return b.rev, nil
}

func (b *fakeBucket) Update(_ context.Context, key string, value []byte, last uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conflict > 0 {
		b.conflict--
		b.rev++
		b.data[key] = fakeEntry{value: b.data[key].value, revision: b.rev}
		return 0, errors.New("nats: wrong last sequence: 1")
	}
	if e, ok := b.data[key]; !ok || e.revision != last {
		return 0, errors.New("nats: wrong last sequence: 1")
	}
	b.rev++
	b.data[key] = fakeEntry{value: value, revision: b.rev}
	return b.rev, nil
}

func (b *fakeBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; !ok {
		return jetstream.ErrKeyNotFound
	}
	delete(b.data, key)
	return nil
}

func (b *fakeBucket) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func TestKVStore_CRUD(t *testing.T) {
	ctx := context.Background()
	kv := NewKVStore(newFakeBucket(), nil)

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	rev, err := kv.Create(ctx, "a", []byte("1"))
	require.NoError(t, err)

	_, err = kv.Create(ctx, "a", []byte("2"))
	assert.ErrorIs(t, err, ErrKVKeyExists)

	_, err = kv.Update(ctx, "a", []byte("2"), rev+100)
	assert.ErrorIs(t, err, ErrKVRevisionMismatch)

	_, err = kv.Update(ctx, "a", []byte("2"), rev)
	require.NoError(t, err)

	entry, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), entry.Value)

	keys, err = kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)

	require.NoError(t, kv.Delete(ctx, "a"))
	assert.ErrorIs(t, kv.Delete(ctx, "a"), ErrKVKeyNotFound)
}

func TestKVStore_SizeLimit(t *testing.T) {
	kv := NewKVStore(newFakeBucket(), nil, func(o *KVOptions) { o.MaxValueSize = 4 })

	_, err := kv.Put(context.Background(), "k", []byte("too large"))
	assert.Error(t, err)
}

func TestKVStore_UpdateWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing key", func(t *testing.T) {
		kv := NewKVStore(newFakeBucket(), nil)
		err := kv.UpdateWithRetry(ctx, "k", func(current []byte) ([]byte, error) {
			assert.Nil(t, current)
			return []byte("v"), nil
		})
		require.NoError(t, err)
	})

	t.Run("retries conflicts", func(t *testing.T) {
		bucket := newFakeBucket()
		bucket.conflict = 2
		kv := NewKVStore(bucket, nil)
		_, err := kv.Put(ctx, "k", []byte("0"))
		require.NoError(t, err)

		calls := 0
		err = kv.UpdateWithRetry(ctx, "k", func(current []byte) ([]byte, error) {
			calls++
			return append(current, '+'), nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		bucket := newFakeBucket()
		bucket.conflict = 100
		kv := NewKVStore(bucket, nil, func(o *KVOptions) { o.MaxRetries = 2 })
		_, err := kv.Put(ctx, "k", []byte("0"))
		require.NoError(t, err)

		err = kv.UpdateWithRetry(ctx, "k", func(current []byte) ([]byte, error) { return current, nil })
		assert.ErrorIs(t, err, ErrKVMaxRetriesExceeded)
	})

	t.Run("update function errors are not retried", func(t *testing.T) {
		kv := NewKVStore(newFakeBucket(), nil)
		calls := 0
		err := kv.UpdateWithRetry(ctx, "k", func([]byte) ([]byte, error) {
			calls++
			return nil, errors.New("bad input")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
