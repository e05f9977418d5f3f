package selfdesc

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/natsclient"
)

// DefaultBucket is the JetStream KV bucket holding self-descriptions.
const DefaultBucket = "aas_self_descriptions"

// Bucket is the subset of natsclient.KVStore the KV-backed store needs.
type Bucket interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// KVStore persists self-descriptions in a NATS KV bucket as msgpack. Every
// write replaces the whole record, so readers never see a partial tree.
type KVStore struct {
	bucket    Bucket
	logger    *slog.Logger
	listeners listeners
}

// NewKVStore wraps an existing bucket.
func NewKVStore(bucket Bucket, logger *slog.Logger) *KVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{bucket: bucket, logger: logger.With("component", "selfdesc-kv")}
}

// NewKVStoreFromClient opens (or creates) the self-description bucket on a
// connected client.
func NewKVStoreFromClient(ctx context.Context, client *natsclient.Client, bucket string, logger *slog.Logger) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "last-known AAS environments per remote service",
		History:     1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "KVStore", "NewKVStoreFromClient", "open bucket")
	}
	return NewKVStore(client.NewKVStore(kv), logger), nil
}

func keyFor(url string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(url))
}

func urlFor(key string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func encode(sd *SelfDescription) ([]byte, error) {
	return msgpack.Marshal(sd)
}

func decode(data []byte) (*SelfDescription, error) {
	var sd SelfDescription
	if err := msgpack.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	if sd.Environment == nil {
		sd.Environment = aas.NewEnvironment()
	}
	return &sd, nil
}

// Create implements Store.
func (s *KVStore) Create(ctx context.Context, url string) error {
	key := normalize(url)
	if key == "" {
		return errors.WrapInvalid(errors.ErrMissingAccessURL, "KVStore", "Create", "validate url")
	}

	data, err := encode(&SelfDescription{URL: key, Environment: aas.NewEnvironment(), UpdatedAt: time.Now()})
	if err != nil {
		return errors.WrapInvalid(err, "KVStore", "Create", "encode record")
	}
	if _, err := s.bucket.Create(ctx, keyFor(key), data); err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyExists) {
			return nil
		}
		return errors.WrapTransient(err, "KVStore", "Create", "write record")
	}

	s.logger.Debug("Self-description created", "url", key)
	return s.listeners.created(ctx, key)
}

// Get implements Store.
func (s *KVStore) Get(ctx context.Context, url string) (*SelfDescription, error) {
	entry, err := s.bucket.Get(ctx, keyFor(normalize(url)))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, fmt.Errorf("self-description %s: %w", url, errors.ErrNotFound)
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", "read record")
	}
	sd, err := decode(entry.Value)
	if err != nil {
		return nil, errors.WrapInvalid(err, "KVStore", "Get", "decode record")
	}
	return sd, nil
}

// List implements Store. Keys that do not decode to a url are skipped.
func (s *KVStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "List", "list keys")
	}
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		url, err := urlFor(key)
		if err != nil {
			s.logger.Warn("Skipping foreign key in self-description bucket", "key", key)
			continue
		}
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls, nil
}

// Update implements Store. The write is a compare-and-set against the
// revision read, so a concurrent remove is not resurrected.
func (s *KVStore) Update(ctx context.Context, url string, env *aas.Environment) error {
	key := normalize(url)
	entry, err := s.bucket.Get(ctx, keyFor(key))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return fmt.Errorf("self-description %s: %w", url, errors.ErrNotFound)
		}
		return errors.WrapTransient(err, "KVStore", "Update", "read record")
	}

	if env == nil {
		env = aas.NewEnvironment()
	}
	data, err := encode(&SelfDescription{URL: key, Environment: env, UpdatedAt: time.Now()})
	if err != nil {
		return errors.WrapInvalid(err, "KVStore", "Update", "encode record")
	}
	if _, err := s.bucket.Update(ctx, keyFor(key), data, entry.Revision); err != nil {
		return errors.WrapTransient(err, "KVStore", "Update", "write record")
	}
	return nil
}

// Remove implements Store.
func (s *KVStore) Remove(ctx context.Context, url string) error {
	key := normalize(url)
	if _, err := s.Get(ctx, key); err != nil {
		return err
	}

	listenerErr := s.listeners.removed(ctx, key)

	if err := s.bucket.Delete(ctx, keyFor(key)); err != nil && !natsclient.IsKVNotFoundError(err) {
		return stderrors.Join(listenerErr, errors.WrapTransient(err, "KVStore", "Remove", "delete record"))
	}
	s.logger.Debug("Self-description removed", "url", key)
	return listenerErr
}

// RegisterListener implements Store.
func (s *KVStore) RegisterListener(l Listener) {
	s.listeners.add(l)
}
