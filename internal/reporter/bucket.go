package reporter

import (
	"context"
	"errors"
	"fmt"

	"github.com/telepair/telebridge/pkg/jsoncodec"
	"github.com/telepair/telebridge/pkg/natsx/client"
)

// KV is the subset of a key-value bucket the reporter uses.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Bucket stores device state documents.
type Bucket struct {
	kv KV
}

// OpenBucket opens the device bucket, creating it when missing.
func OpenBucket(ctx context.Context, natsClient *client.Client, config client.BucketConfig) (*Bucket, error) {
	if natsClient == nil {
		return nil, errors.New("NATS client is required")
	}
	kv, err := natsClient.Bucket(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open device bucket: %w", err)
	}
	return NewBucket(kv), nil
}

func NewBucket(kv KV) *Bucket {
	return &Bucket{kv: kv}
}

// Put stores data under key. Byte slices and strings are stored as is,
// anything else as JSON.
func (b *Bucket) Put(ctx context.Context, key string, data any) error {
	var payload []byte
	switch data := data.(type) {
	case []byte:
		payload = data
	case string:
		payload = []byte(data)
	default:
		var err error
		payload, err = jsoncodec.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}
	return b.kv.Put(ctx, key, payload)
}

// PutJSON stores v as a JSON document.
func (b *Bucket) PutJSON(ctx context.Context, key string, v any) error {
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.kv.Put(ctx, key, payload)
}

// GetJSON decodes the document stored under key into v.
func (b *Bucket) GetJSON(ctx context.Context, key string, v any) error {
	data, err := b.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := jsoncodec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	return b.kv.Delete(ctx, key)
}
