// Package configwatch applies node configuration stored in a KV bucket to
// the collector registry and the report identity.
package configwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telepair/telebridge/internal/scheduler"
)

// Collector names the watcher addresses.
const (
	StreamingCollector = "streaming"
	AppUsageCollector  = "app_usage"
)

// Topic keys under "topics.".
const (
	TopicKeyStreaming = "StreamingReport"
	TopicKeyAppUsage  = "AppUsageReport"
)

// Intervals applied when a negative interval is configured.
const (
	DefaultStreamingInterval int64 = 10
	DefaultAppUsageInterval  int64 = 3600
)

const defaultRetryInterval = time.Second

// Target receives configuration inputs. *scheduler.Registry implements it.
type Target interface {
	SetInterval(name string, seconds int64) error
	DeleteInterval(name string) error
	SetTopic(name, topic string) error
	SetExtra(name, value string) error
	RequestOneShot(name string) error
}

// Identity receives report header updates.
type Identity interface {
	SetNodeID(id string)
	SetLocationID(id string)
}

// Bucket is a watchable KV bucket. *client.KVManager implements it.
type Bucket interface {
	Watch(ctx context.Context) (jetstream.KeyWatcher, error)
}

// Update is one configuration change. Deleted updates carry no value.
type Update struct {
	Key     string
	Value   string
	Deleted bool
}

// Watcher maps bucket updates onto the registry.
type Watcher struct {
	bucket        Bucket
	target        Target
	identity      Identity
	retryInterval time.Duration
	metrics       *Metrics
	logger        *slog.Logger

	synced  atomic.Bool
	applied atomic.Uint64
}

// Option customizes a Watcher.
type Option func(*Watcher)

func WithMetrics(m *Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// WithRetryInterval sets the delay before re-watching after the watch ends.
func WithRetryInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.retryInterval = d
		}
	}
}

// New creates a Watcher. bucket may be nil when only Apply is used.
func New(bucket Bucket, target Target, identity Identity, opts ...Option) (*Watcher, error) {
	if target == nil {
		return nil, errors.New("config target is required")
	}
	w := &Watcher{
		bucket:        bucket,
		target:        target,
		identity:      identity,
		retryInterval: defaultRetryInterval,
		logger:        slog.Default().With("component", "configwatch"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Synced reports whether the initial bucket contents have been applied.
func (w *Watcher) Synced() bool {
	return w.synced.Load()
}

// Applied returns how many updates were applied successfully.
func (w *Watcher) Applied() uint64 {
	return w.applied.Load()
}

// Run watches the bucket until ctx is done. The watch is re-established
// after RetryInterval whenever it fails or ends.
func (w *Watcher) Run(ctx context.Context) error {
	if w.bucket == nil {
		return errors.New("config bucket is required")
	}
	for {
		err := w.watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("config watch ended, retrying", "error", err, "retry_in", w.retryInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.retryInterval):
		}
	}
}

func (w *Watcher) watch(ctx context.Context) error {
	kw, err := w.bucket.Watch(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = kw.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-kw.Updates():
			if !ok {
				return errors.New("watch channel closed")
			}
			if entry == nil {
				if !w.synced.Swap(true) {
					w.logger.Info("initial node config applied", "applied", w.Applied())
				}
				continue
			}
			u := Update{Key: entry.Key(), Value: string(entry.Value())}
			switch entry.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				u.Deleted = true
				u.Value = ""
			}
			if err := w.Apply(u); err != nil {
				w.logger.Warn("config update rejected", "key", u.Key, "value", u.Value, "error", err)
			}
		}
	}
}

// Apply maps one update onto the target. Unknown keys are ignored.
func (w *Watcher) Apply(u Update) (err error) {
	defer func() {
		w.metrics.update(err)
		if err == nil {
			w.applied.Add(1)
		}
	}()

	module, key, ok := strings.Cut(u.Key, ".")
	if !ok {
		return fmt.Errorf("config key %q: expected <module>.<key>", u.Key)
	}

	switch module {
	case StreamingCollector:
		return w.applyStreaming(key, u)
	case AppUsageCollector:
		return w.applyAppUsage(key, u)
	case "topics":
		return w.applyTopic(key, u)
	case "headers":
		return w.applyHeader(key, u)
	}
	w.logger.Debug("ignoring config key", "key", u.Key)
	return nil
}

func (w *Watcher) applyStreaming(key string, u Update) error {
	switch key {
	case "report_interval":
		if u.Deleted {
			return w.target.DeleteInterval(StreamingCollector)
		}
		v, err := parseInt(u.Value)
		if err != nil {
			return err
		}
		if v < 0 {
			v = DefaultStreamingInterval
		}
		return w.target.SetInterval(StreamingCollector, v)
	case "monitored_apps":
		if u.Deleted {
			return errors.Join(
				w.target.DeleteInterval(StreamingCollector),
				w.target.SetExtra(StreamingCollector, ""),
			)
		}
		return w.target.SetExtra(StreamingCollector, u.Value)
	}
	return nil
}

func (w *Watcher) applyAppUsage(key string, u Update) error {
	switch key {
	case "report_interval":
		if u.Deleted {
			return w.target.DeleteInterval(AppUsageCollector)
		}
		v, err := parseInt(u.Value)
		if err != nil {
			return err
		}
		switch {
		case v > 0:
			return w.target.SetInterval(AppUsageCollector, v)
		case v == 0:
			return w.target.RequestOneShot(AppUsageCollector)
		default:
			return w.target.SetInterval(AppUsageCollector, DefaultAppUsageInterval)
		}
	case "time_period":
		if u.Deleted {
			return w.target.SetExtra(AppUsageCollector, "0")
		}
		return w.target.SetExtra(AppUsageCollector, u.Value)
	}
	return nil
}

func (w *Watcher) applyTopic(key string, u Update) error {
	var name string
	switch key {
	case TopicKeyStreaming:
		name = StreamingCollector
	case TopicKeyAppUsage:
		name = AppUsageCollector
	default:
		return nil
	}
	topic := strings.TrimSpace(u.Value)
	if u.Deleted {
		topic = ""
	}
	return w.target.SetTopic(name, topic)
}

func (w *Watcher) applyHeader(key string, u Update) error {
	if w.identity == nil || u.Deleted {
		return nil
	}
	value := strings.TrimSpace(u.Value)
	switch key {
	case "node_id":
		w.identity.SetNodeID(value)
	case "location_id":
		w.identity.SetLocationID(value)
	default:
		return nil
	}
	w.logger.Info("report header updated", "header", key, "value", value)
	return nil
}

func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &scheduler.ConfigError{Kind: scheduler.InvalidValue, Err: err}
	}
	return v, nil
}
