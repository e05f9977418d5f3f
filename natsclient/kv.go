package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pkg/retry"
)

// Well-known KV errors
var (
	ErrKVKeyNotFound        = errors.New("kv: key not found")
	ErrKVKeyExists          = errors.New("kv: key already exists")
	ErrKVRevisionMismatch   = errors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = errors.New("kv: max retries exceeded")
)

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	MaxRetries    int           // CAS retry attempts after the first
	RetryDelay    time.Duration // Initial delay between retries
	MaxRetryDelay time.Duration
	Timeout       time.Duration // Per-operation timeout
	MaxValueSize  int
}

// DefaultKVOptions returns the defaults used for self-description buckets.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:    5,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: time.Second,
		Timeout:       5 * time.Second,
		MaxValueSize:  8 * 1024 * 1024,
	}
}

// KVStore provides KV operations on one bucket with CAS support.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps bucket.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	return NewKVStore(bucket, c.logger, opts...)
}

// NewKVStore wraps bucket without a client, which is what tests with fake
// buckets use.
func NewKVStore(bucket jetstream.KeyValue, logger *slog.Logger, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{bucket: bucket, options: options, logger: logger.With("bucket", bucket.Bucket())}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put creates or updates a key without revision check (last writer wins)
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := kv.checkSize(value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	kv.logger.Debug("KV put", "key", key, "revision", rev)
	return rev, nil
}

// Create only creates if key doesn't exist
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := kv.checkSize(value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}
	kv.logger.Debug("KV create", "key", key, "revision", rev)
	return rev, nil
}

// Update performs CAS update with explicit revision
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := kv.checkSize(value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	kv.logger.Debug("KV update", "key", key, "old_revision", revision, "revision", rev)
	return rev, nil
}

// UpdateWithRetry reads the current value, applies updateFn and writes the
// result with CAS, retrying on conflicts. A missing key is created.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) error {

	cfg := retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	err := retry.Do(ctx, cfg, func() error {
		var current []byte
		var revision uint64

		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			current, revision = entry.Value, entry.Revision
		case !errors.Is(err, ErrKVKeyNotFound):
			return err
		}

		next, err := updateFn(current)
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("update function error: %w", err))
		}
		if err := kv.checkSize(next); err != nil {
			return retry.NonRetryable(err)
		}

		if revision == 0 {
			_, err = kv.Create(ctx, key, next)
		} else {
			_, err = kv.Update(ctx, key, next, revision)
		}
		if err != nil && IsKVConflictError(err) {
			kv.logger.Debug("KV conflict, retrying", "key", key)
		}
		return err
	})

	if err != nil && IsKVConflictError(err) {
		return ErrKVMaxRetriesExceeded
	}
	return err
}

// Delete removes a key from the bucket
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	kv.logger.Debug("KV delete", "key", key)
	return nil
}

// Keys lists all keys in the bucket. An empty bucket yields an empty slice.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}

func (kv *KVStore) checkSize(value []byte) error {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return fmt.Errorf("kv value size %d exceeds maximum %d", len(value), kv.options.MaxValueSize)
	}
	return nil
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVKeyNotFound) || errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// IsKVConflictError checks if error indicates a conflict (key exists or wrong revision)
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVRevisionMismatch) || errors.Is(err, ErrKVKeyExists) ||
		errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists")
}
