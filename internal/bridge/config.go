package bridge

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/telepair/telebridge/internal/scheduler"
)

var (
	defaultNodeID = "telebridge"

	defaultInfoInterval   = 600
	defaultStatusInterval = 30

	// Node IDs become KV key segments and report headers: no dots.
	validNodeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	invalidNodeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

	// hostname resolves the default node ID. Replaced in tests.
	hostname = func() string {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		info, err := host.InfoWithContext(ctx)
		if err != nil {
			return ""
		}
		return info.Hostname
	}
)

// StreamingConfig seeds the streaming collector. The config bucket
// overrides it at runtime.
type StreamingConfig struct {
	// Interval in seconds. Zero leaves the stream disabled until configured.
	Interval      int64    `yaml:"interval"       json:"interval"`
	Topic         string   `yaml:"topic"          json:"topic"`
	MonitoredApps []string `yaml:"monitored_apps" json:"monitored_apps,omitempty"`
}

// AppUsageConfig seeds the app usage collector.
type AppUsageConfig struct {
	Interval int64  `yaml:"interval" json:"interval"`
	Topic    string `yaml:"topic"    json:"topic"`
	// TimePeriod is the usage window in seconds. Zero means 86400.
	TimePeriod int64 `yaml:"time_period" json:"time_period"`
	// OneShot requests a single report right after start.
	OneShot bool `yaml:"one_shot" json:"one_shot"`
}

// Config holds bridge configuration.
type Config struct {
	NodeID         string           `yaml:"node_id"              json:"node_id"`
	LocationID     string           `yaml:"location_id"          json:"location_id"`
	InfoInterval   int              `yaml:"info_report_interval" json:"info_report_interval"`
	StatusInterval int              `yaml:"status_interval"      json:"status_interval"`
	Scheduler      scheduler.Config `yaml:"scheduler"            json:"scheduler"`
	Streaming      StreamingConfig  `yaml:"streaming"            json:"streaming"`
	AppUsage       AppUsageConfig   `yaml:"app_usage"            json:"app_usage"`
}

// DefaultConfig returns the bridge defaults. Both streams start disabled
// with no topic, so nothing is reported until the node is configured.
func DefaultConfig() Config {
	return Config{
		InfoInterval:   defaultInfoInterval,
		StatusInterval: defaultStatusInterval,
		Scheduler: scheduler.Config{
			TickInterval: scheduler.DefaultTickInterval,
		},
	}
}

// Parse fills defaults and validates. An empty node ID is derived from
// the host name.
func (c *Config) Parse() error {
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = NodeIDFromHostname(hostname())
	}
	if err := validateNodeID(c.NodeID); err != nil {
		return fmt.Errorf("invalid node ID: %w", err)
	}
	if strings.ContainsAny(c.LocationID, "\r\n") {
		return fmt.Errorf("location ID cannot contain line breaks")
	}

	if c.InfoInterval <= 0 {
		c.InfoInterval = defaultInfoInterval
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = defaultStatusInterval
	}
	c.Scheduler.SetDefaults()
	if c.Scheduler.QueueSize < 0 {
		return fmt.Errorf("scheduler queue size cannot be negative")
	}

	if c.Streaming.Interval < 0 {
		return fmt.Errorf("streaming interval cannot be negative")
	}
	if c.AppUsage.Interval < 0 {
		return fmt.Errorf("app usage interval cannot be negative")
	}
	if c.AppUsage.TimePeriod < 0 {
		return fmt.Errorf("app usage time period cannot be negative")
	}
	return nil
}

// NodeIDFromHostname turns a host name into a valid node ID. Unusable
// names fall back to "telebridge".
func NodeIDFromHostname(name string) string {
	id := invalidNodeIDChars.ReplaceAllString(strings.TrimSpace(name), "-")
	for strings.Contains(id, "--") {
		id = strings.ReplaceAll(id, "--", "-")
	}
	id = strings.Trim(id, "-")
	if len(id) > 63 {
		id = strings.TrimRight(id[:63], "-")
	}
	if id == "" {
		return defaultNodeID
	}
	return id
}

// validateNodeID validates that the node ID is usable as a key segment.
func validateNodeID(id string) error {
	if id == "" {
		return fmt.Errorf("node ID cannot be empty")
	}

	if len(id) > 63 {
		return fmt.Errorf("node ID too long (max 63 characters)")
	}

	if !validNodeIDPattern.MatchString(id) {
		return fmt.Errorf("node ID contains invalid characters, only alphanumeric, hyphens and underscores are allowed")
	}

	if strings.HasPrefix(id, "-") || strings.HasSuffix(id, "-") {
		return fmt.Errorf("node ID cannot start or end with hyphen")
	}

	if strings.Contains(id, "--") {
		return fmt.Errorf("node ID cannot contain consecutive hyphens")
	}

	return nil
}
