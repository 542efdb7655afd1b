package scheduler

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// StreamConfig is the stream-specific state of a collector. Each variant
// carries only its own fields.
type StreamConfig interface {
	// Kind names the variant.
	Kind() string
	// AllowsOneShot reports whether one-shot requests are accepted.
	AllowsOneShot() bool
	// WithExtra returns a copy updated from a textual configuration value.
	WithExtra(value string) (StreamConfig, error)
}

// StreamingConfig configures the streaming session stream.
type StreamingConfig struct {
	// AppFilters limits reports to these apps. Empty means every app.
	AppFilters []string
}

// Kind implements StreamConfig.
func (StreamingConfig) Kind() string { return "streaming" }

// AllowsOneShot implements StreamConfig.
func (StreamingConfig) AllowsOneShot() bool { return false }

// WithExtra parses a pipe separated app list. Blank entries are dropped.
func (c StreamingConfig) WithExtra(value string) (StreamConfig, error) {
	var filters []string
	for app := range strings.SplitSeq(value, "|") {
		if app = strings.TrimSpace(app); app != "" {
			filters = append(filters, app)
		}
	}
	return StreamingConfig{AppFilters: filters}, nil
}

// Accepts reports whether a session of app passes the filter.
func (c StreamingConfig) Accepts(app string) bool {
	return len(c.AppFilters) == 0 || slices.Contains(c.AppFilters, app)
}

// DefaultTimePeriod is the app usage window when none is configured.
const DefaultTimePeriod int64 = 86400

// AppUsageConfig configures the app usage stream.
type AppUsageConfig struct {
	// TimePeriod is the usage window in seconds. Zero selects DefaultTimePeriod.
	TimePeriod int64
}

// Kind implements StreamConfig.
func (AppUsageConfig) Kind() string { return "app_usage" }

// AllowsOneShot implements StreamConfig.
func (AppUsageConfig) AllowsOneShot() bool { return true }

// WithExtra parses the time period in seconds.
func (c AppUsageConfig) WithExtra(value string) (StreamConfig, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return c, fmt.Errorf("time period %q: %w", value, err)
	}
	if v < 0 {
		return c, errors.New("time period cannot be negative")
	}
	return AppUsageConfig{TimePeriod: v}, nil
}

// Window returns the effective time period.
func (c AppUsageConfig) Window() int64 {
	if c.TimePeriod <= 0 {
		return DefaultTimePeriod
	}
	return c.TimePeriod
}
