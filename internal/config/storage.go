package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telepair/telebridge/pkg/natsx/client"
)

var (
	defaultReportStreamName          = "telebridge-reports"
	defaultReportStreamDescription   = "Telemetry reports"
	defaultReportStreamSubjectPrefix = "tb.reports"
	defaultReportStreamRetention     = "limits"
	defaultReportStreamMaxAge        = 7 * 24 * time.Hour       // 7 days
	defaultReportStreamMaxBytes      = int64(100 * 1024 * 1024) // 100MB
	defaultReportStreamMaxMsgs       = int64(100000)            // 100k messages
	defaultReportStreamStorage       = "file"
	defaultReportStreamReplicas      = 1
	defaultReportStreamDuplicates    = 5 * time.Minute

	defaultDeviceBucketName        = "telebridge-devices"
	defaultDeviceBucketDescription = "Node and device state"
	defaultDeviceBucketHistory     = uint8(3)

	defaultConfigBucketName        = "telebridge-config"
	defaultConfigBucketDescription = "Runtime collector configuration"
	defaultConfigBucketHistory     = uint8(5)

	defaultBucketStorage  = "file"
	defaultBucketReplicas = 1
)

// StorageConfig configures the JetStream resources the bridge uses.
type StorageConfig struct {
	ReportStream ReportStreamConfig `yaml:"report_stream" json:"report_stream"`
	DeviceBucket BucketConfig       `yaml:"device_bucket" json:"device_bucket"`
	ConfigBucket BucketConfig       `yaml:"config_bucket" json:"config_bucket"`
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		ReportStream: DefaultReportStreamConfig(),
		DeviceBucket: BucketConfig{
			Name:        defaultDeviceBucketName,
			Description: defaultDeviceBucketDescription,
			History:     defaultDeviceBucketHistory,
			Storage:     defaultBucketStorage,
			Replicas:    defaultBucketReplicas,
		},
		ConfigBucket: BucketConfig{
			Name:        defaultConfigBucketName,
			Description: defaultConfigBucketDescription,
			History:     defaultConfigBucketHistory,
			Storage:     defaultBucketStorage,
			Replicas:    defaultBucketReplicas,
		},
	}
}

func (c *StorageConfig) Validate() error {
	if err := c.ReportStream.Validate(); err != nil {
		return fmt.Errorf("invalid report stream config: %w", err)
	}
	if err := c.DeviceBucket.Validate(); err != nil {
		return fmt.Errorf("invalid device bucket config: %w", err)
	}
	if err := c.ConfigBucket.Validate(); err != nil {
		return fmt.Errorf("invalid config bucket config: %w", err)
	}
	if c.DeviceBucket.Name == c.ConfigBucket.Name {
		return fmt.Errorf("device and config buckets must differ, both are %q", c.DeviceBucket.Name)
	}
	return nil
}

func (c *StorageConfig) SetDefaults() {
	d := DefaultStorageConfig()
	c.ReportStream.SetDefaults()
	c.DeviceBucket.setDefaults(d.DeviceBucket)
	c.ConfigBucket.setDefaults(d.ConfigBucket)
}

// BucketConfig configures a NATS KV bucket.
type BucketConfig struct {
	Name        string        `yaml:"name"        json:"name"`
	Description string        `yaml:"description" json:"description"`
	History     uint8         `yaml:"history"     json:"history"`
	TTL         time.Duration `yaml:"ttl"         json:"ttl"`
	Storage     string        `yaml:"storage"     json:"storage"`
	Replicas    int           `yaml:"replicas"    json:"replicas"`
	Compression bool          `yaml:"compression" json:"compression"`
}

// Validate validates the bucket configuration. A zero TTL keeps entries
// until they are deleted.
func (c *BucketConfig) Validate() error {
	if err := client.ValidateBucketName(c.Name); err != nil {
		return err
	}
	if c.History == 0 {
		return fmt.Errorf("history must be greater than 0")
	}
	if c.TTL < 0 {
		return fmt.Errorf("TTL cannot be negative")
	}
	if c.Storage != "file" && c.Storage != "memory" {
		return fmt.Errorf("storage must be 'file' or 'memory', got %s", c.Storage)
	}
	if c.Replicas < 1 {
		return fmt.Errorf("replicas must be at least 1")
	}
	return nil
}

func (c *BucketConfig) setDefaults(d BucketConfig) {
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Description == "" {
		c.Description = d.Description
	}
	if c.History == 0 {
		c.History = d.History
	}
	if c.Storage == "" {
		c.Storage = d.Storage
	}
	if c.Replicas == 0 {
		c.Replicas = d.Replicas
	}
}

// ClientConfig converts to the NATS client bucket configuration.
func (c *BucketConfig) ClientConfig() client.BucketConfig {
	return client.BucketConfig{
		Name:         c.Name,
		Description:  c.Description,
		History:      c.History,
		Replicas:     c.Replicas,
		OnMemory:     c.Storage == "memory",
		Compression:  c.Compression,
		MaxValueSize: int32(client.MaxValueSize),
		TTL:          c.TTL,
	}
}

// ReportStreamConfig configures the JetStream stream reports are
// delivered to. Each report topic becomes a subject under SubjectPrefix.
type ReportStreamConfig struct {
	Name          string        `yaml:"name"           json:"name"`
	Description   string        `yaml:"description"    json:"description"`
	SubjectPrefix string        `yaml:"subject_prefix" json:"subject_prefix"`
	Retention     string        `yaml:"retention"      json:"retention"`
	MaxAge        time.Duration `yaml:"max_age"        json:"max_age"`
	MaxBytes      int64         `yaml:"max_bytes"      json:"max_bytes"`
	MaxMsgs       int64         `yaml:"max_msgs"       json:"max_msgs"`
	Storage       string        `yaml:"storage"        json:"storage"`
	Replicas      int           `yaml:"replicas"       json:"replicas"`
	Duplicates    time.Duration `yaml:"duplicates"     json:"duplicates"`
}

// DefaultReportStreamConfig returns default configuration for the report stream.
func DefaultReportStreamConfig() ReportStreamConfig {
	return ReportStreamConfig{
		Name:          defaultReportStreamName,
		Description:   defaultReportStreamDescription,
		SubjectPrefix: defaultReportStreamSubjectPrefix,
		Retention:     defaultReportStreamRetention,
		MaxAge:        defaultReportStreamMaxAge,
		MaxBytes:      defaultReportStreamMaxBytes,
		MaxMsgs:       defaultReportStreamMaxMsgs,
		Storage:       defaultReportStreamStorage,
		Replicas:      defaultReportStreamReplicas,
		Duplicates:    defaultReportStreamDuplicates,
	}
}

// Validate validates the report stream configuration
func (c *ReportStreamConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("stream name cannot be empty")
	}
	if err := client.ValidateSubject(c.SubjectPrefix + ".x"); err != nil {
		return fmt.Errorf("invalid subject prefix %q: %w", c.SubjectPrefix, err)
	}
	if strings.ContainsAny(c.SubjectPrefix, "*>") {
		return fmt.Errorf("subject prefix %q cannot contain wildcards", c.SubjectPrefix)
	}
	if _, ok := retentionPolicies[c.Retention]; !ok {
		return fmt.Errorf("retention must be 'limits', 'interest', or 'workqueue', got %s", c.Retention)
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("max age must be greater than 0")
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("max bytes must be greater than 0")
	}
	if c.MaxMsgs <= 0 {
		return fmt.Errorf("max messages must be greater than 0")
	}
	if c.Storage != "file" && c.Storage != "memory" {
		return fmt.Errorf("storage must be 'file' or 'memory', got %s", c.Storage)
	}
	if c.Replicas < 1 {
		return fmt.Errorf("replicas must be at least 1")
	}
	if c.Duplicates < 0 {
		return fmt.Errorf("duplicates window cannot be negative")
	}
	return nil
}

// SetDefaults sets default values for the report stream configuration
func (c *ReportStreamConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = defaultReportStreamName
	}
	if c.Description == "" {
		c.Description = defaultReportStreamDescription
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaultReportStreamSubjectPrefix
	}
	if c.Retention == "" {
		c.Retention = defaultReportStreamRetention
	}
	if c.MaxAge == 0 {
		c.MaxAge = defaultReportStreamMaxAge
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = defaultReportStreamMaxBytes
	}
	if c.MaxMsgs == 0 {
		c.MaxMsgs = defaultReportStreamMaxMsgs
	}
	if c.Storage == "" {
		c.Storage = defaultReportStreamStorage
	}
	if c.Replicas == 0 {
		c.Replicas = defaultReportStreamReplicas
	}
	if c.Duplicates == 0 {
		c.Duplicates = defaultReportStreamDuplicates
	}
}

var retentionPolicies = map[string]jetstream.RetentionPolicy{
	"limits":    jetstream.LimitsPolicy,
	"interest":  jetstream.InterestPolicy,
	"workqueue": jetstream.WorkQueuePolicy,
}

// StreamConfig converts to the JetStream stream configuration. Call
// after Validate.
func (c *ReportStreamConfig) StreamConfig() client.StreamConfig {
	storage := jetstream.FileStorage
	if c.Storage == "memory" {
		storage = jetstream.MemoryStorage
	}
	return client.StreamConfig{
		Name:        c.Name,
		Description: c.Description,
		Subjects:    []string{c.SubjectPrefix + ".>"},
		Retention:   retentionPolicies[c.Retention],
		MaxAge:      c.MaxAge,
		MaxBytes:    c.MaxBytes,
		MaxMsgs:     c.MaxMsgs,
		Storage:     storage,
		Replicas:    c.Replicas,
		Duplicates:  c.Duplicates,
	}
}
