package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const defaultInitTimeout = 5 * time.Second

// BucketConfig is the configuration for a NATS key-value store bucket.
type BucketConfig struct {
	Name         string        `yaml:"name"           json:"name"`
	Description  string        `yaml:"description"    json:"description"`
	History      uint8         `yaml:"history"        json:"history"`
	Replicas     int           `yaml:"replicas"       json:"replicas"`
	OnMemory     bool          `yaml:"on_memory"      json:"on_memory"`
	Compression  bool          `yaml:"compression"    json:"compression"`
	MaxBytes     int64         `yaml:"max_bytes"      json:"max_bytes"`
	MaxValueSize int32         `yaml:"max_value_size" json:"max_value_size"`
	TTL          time.Duration `yaml:"ttl"            json:"ttl"`
}

// Validate validates the bucket config.
func (c *BucketConfig) Validate() error {
	if err := ValidateBucketName(c.Name); err != nil {
		return WrapValidationError("bucket name", err)
	}
	if c.TTL < 0 {
		return errors.New("bucket ttl cannot be negative")
	}
	return nil
}

func (c *BucketConfig) keyValueConfig() jetstream.KeyValueConfig {
	cfg := jetstream.KeyValueConfig{
		Bucket:       c.Name,
		Description:  c.Description,
		TTL:          c.TTL,
		History:      c.History,
		Replicas:     c.Replicas,
		Compression:  c.Compression,
		MaxBytes:     c.MaxBytes,
		MaxValueSize: c.MaxValueSize,
		Storage:      jetstream.FileStorage,
	}
	if c.OnMemory {
		cfg.Storage = jetstream.MemoryStorage
	}
	return cfg
}

// KVManager wraps one key-value bucket.
type KVManager struct {
	kv     jetstream.KeyValue
	config BucketConfig
	logger *slog.Logger
}

// Bucket opens the configured bucket, creating it when missing.
func (c *Client) Bucket(ctx context.Context, config BucketConfig) (*KVManager, error) {
	return NewKVManager(ctx, c.js, config)
}

// NewKVManager opens or creates the bucket described by config.
func NewKVManager(ctx context.Context, js jetstream.JetStream, config BucketConfig) (*KVManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bucket config: %w", err)
	}

	m := &KVManager{
		config: config,
		logger: slog.Default().With("component", "natsx.kv", "bucket", config.Name),
	}

	ctx, cancel := context.WithTimeout(ctx, defaultInitTimeout)
	defer cancel()

	kv, err := js.KeyValue(ctx, config.Name)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, config.keyValueConfig())
	}
	if err != nil {
		m.logger.Error("failed to create or get KV bucket", "error", err)
		return nil, fmt.Errorf("failed to create or get KV bucket: %w", err)
	}

	m.kv = kv
	m.logger.Debug("KV bucket ready")
	return m, nil
}

// Name returns the bucket name.
func (m *KVManager) Name() string {
	return m.config.Name
}

// KeyValue returns the underlying key-value store.
func (m *KVManager) KeyValue() jetstream.KeyValue {
	return m.kv
}

// Put stores a value with the given key.
func (m *KVManager) Put(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return WrapValidationError("key", err)
	}
	if err := ValidateValue(value); err != nil {
		return WrapValidationError("value", err)
	}

	if _, err := m.kv.Put(ctx, key, value); err != nil {
		m.logger.ErrorContext(ctx, "failed to put key-value pair", "key", key, "error", err)
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	m.logger.DebugContext(ctx, "put key-value pair", "key", key)
	return nil
}

// Get retrieves a value by key. Missing keys return jetstream.ErrKeyNotFound.
func (m *KVManager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, WrapValidationError("key", err)
	}

	entry, err := m.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return entry.Value(), nil
}

// Delete places a delete marker for key. Deleting a missing key is not an error.
func (m *KVManager) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return WrapValidationError("key", err)
	}

	if err := m.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		m.logger.ErrorContext(ctx, "failed to delete key-value pair", "key", key, "error", err)
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	m.logger.DebugContext(ctx, "deleted key-value pair", "key", key)
	return nil
}

// Watch streams every current value followed by live updates. The channel
// yields a nil entry once the initial values have been delivered.
func (m *KVManager) Watch(ctx context.Context) (jetstream.KeyWatcher, error) {
	w, err := m.kv.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to watch bucket %s: %w", m.config.Name, err)
	}
	return w, nil
}
