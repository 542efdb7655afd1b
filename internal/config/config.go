// Package config loads the telebridge configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/telepair/telebridge/internal/bridge"
	"github.com/telepair/telebridge/internal/listener"
	"github.com/telepair/telebridge/internal/transport"
	"github.com/telepair/telebridge/pkg/health"
	"github.com/telepair/telebridge/pkg/logger"
	"github.com/telepair/telebridge/pkg/natsx/client"
	"github.com/telepair/telebridge/pkg/natsx/embed"
)

var defaultShutdownTimeoutSec = 10

const redacted = "REDACTED"

// Config holds the complete bridge configuration.
type Config struct {
	Bridge             bridge.Config       `yaml:"bridge"               json:"bridge"`
	Transport          transport.Config    `yaml:"transport"            json:"transport"`
	Listener           listener.Config     `yaml:"listener"             json:"listener"`
	Storage            StorageConfig       `yaml:"storage"              json:"storage"`
	NATS               client.Config       `yaml:"nats"                 json:"nats"`
	EnableEmbedNATS    bool                `yaml:"enable_embed_nats"    json:"enable_embed_nats"`
	EmbedNATS          *embed.ServerConfig `yaml:"embed_nats"           json:"embed_nats"`
	Health             health.Config       `yaml:"health"               json:"health"`
	Logger             logger.Config       `yaml:"logger"               json:"logger"`
	ShutdownTimeoutSec int                 `yaml:"shutdown_timeout_sec" json:"shutdown_timeout_sec"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Bridge:    bridge.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		Storage:   DefaultStorageConfig(),
		NATS:      *client.DefaultConfig(),
		Health:    *health.DefaultConfig(),
		Logger:    logger.DefaultConfig(),
	}
	cfg.SetDefaults()
	return cfg
}

// Validate validates the configuration and resolves derived values such
// as the default node ID.
func (c *Config) Validate() error {
	if err := c.Bridge.Parse(); err != nil {
		return fmt.Errorf("invalid bridge config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("invalid transport config: %w", err)
	}
	if err := client.ValidateSubject(c.Transport.Subject); err != nil {
		return fmt.Errorf("invalid transport config: %w", err)
	}

	if err := client.ValidateSubject(c.Listener.Subject); err != nil {
		return fmt.Errorf("invalid listener config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.NATS.Validate(); err != nil {
		return fmt.Errorf("invalid nats config: %w", err)
	}

	if c.EnableEmbedNATS {
		if c.EmbedNATS == nil {
			return fmt.Errorf("embed_nats must be set if enable_embed_nats is true")
		}
		if err := c.EmbedNATS.Validate(); err != nil {
			return fmt.Errorf("invalid embed_nats config: %w", err)
		}
	}

	if err := c.Health.Parse(); err != nil {
		return fmt.Errorf("invalid health config: %w", err)
	}

	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("invalid logger config: %w", err)
	}

	return nil
}

// SetDefaults sets default values for the configuration.
func (c *Config) SetDefaults() {
	c.Transport.SetDefaults()
	c.Listener.SetDefaults()
	c.Storage.SetDefaults()
	if c.EnableEmbedNATS && c.EmbedNATS == nil {
		c.EmbedNATS = embed.DefaultServerConfig()
	}
	if c.ShutdownTimeoutSec <= 0 {
		c.ShutdownTimeoutSec = defaultShutdownTimeoutSec
	}
}

// Redacted returns a copy with NATS credentials masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	for _, s := range []*string{&out.NATS.Token, &out.NATS.NKey, &out.NATS.JWT} {
		if *s != "" {
			*s = redacted
		}
	}
	return &out
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// LoadConfig loads configuration from a file, or returns the default
// configuration if the file doesn't exist.
func LoadConfig(configPath string) (*Config, error) {
	configPath, err := ExpandPath(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}

	if configPath == "" {
		return defaultValidated()
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return defaultValidated()
	}

	// #nosec G304 -- configPath is controlled by user via command line flag
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", configPath, err)
	}

	return config, nil
}

func defaultValidated() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
	return cfg, nil
}

// WriteConfig writes the configuration to path. An existing file is
// only replaced when force is set.
func WriteConfig(c *Config, path string, force bool) (string, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand config path: %w", err)
	}
	if path == "" {
		return "", fmt.Errorf("config path cannot be empty")
	}
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("config file %s already exists", path)
	}

	data, err := c.Marshal()
	if err != nil {
		return path, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return path, fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return path, nil
}
