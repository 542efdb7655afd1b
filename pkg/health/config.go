package health

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Default values for health configuration.
const (
	DefaultAddr        = ":9091"
	DefaultLivezPath   = "/livez"
	DefaultReadyzPath  = "/readyz"
	DefaultMetricsPath = "/metrics"
	DefaultStatusPath  = "/status"
	DefaultNamespace   = "telebridge"
)

// Config holds configuration for the health server.
type Config struct {
	Enabled          bool   `json:"enabled"           yaml:"enabled"`
	Addr             string `json:"addr"              yaml:"addr"`
	LivezPath        string `json:"livez_path"        yaml:"livez_path"`
	ReadyzPath       string `json:"readyz_path"       yaml:"readyz_path"`
	MetricsPath      string `json:"metrics_path"      yaml:"metrics_path"`
	StatusPath       string `json:"status_path"       yaml:"status_path"`
	MetricsNamespace string `json:"metrics_namespace" yaml:"metrics_namespace"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		Addr:             DefaultAddr,
		LivezPath:        DefaultLivezPath,
		ReadyzPath:       DefaultReadyzPath,
		MetricsPath:      DefaultMetricsPath,
		StatusPath:       DefaultStatusPath,
		MetricsNamespace: DefaultNamespace,
	}
}

// Parse validates and normalizes the configuration.
func (c *Config) Parse() error {
	c.applyDefaults()
	c.LivezPath = normalizePath(c.LivezPath)
	c.ReadyzPath = normalizePath(c.ReadyzPath)
	c.MetricsPath = normalizePath(c.MetricsPath)
	c.StatusPath = normalizePath(c.StatusPath)

	if err := validateAddr(c.Addr); err != nil {
		return fmt.Errorf("invalid addr: %w", err)
	}
	return validateUniquePaths(c.LivezPath, c.ReadyzPath, c.MetricsPath, c.StatusPath)
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LivezPath == "" {
		c.LivezPath = DefaultLivezPath
	}
	if c.ReadyzPath == "" {
		c.ReadyzPath = DefaultReadyzPath
	}
	if c.MetricsPath == "" {
		c.MetricsPath = DefaultMetricsPath
	}
	if c.StatusPath == "" {
		c.StatusPath = DefaultStatusPath
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = DefaultNamespace
	}
}

// validateAddr validates the TCP address format without binding to the port.
func validateAddr(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return errors.New("addr is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return fmt.Errorf("resolve tcp addr %q: %w", addr, err)
	}
	return nil
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func validateUniquePaths(paths ...string) error {
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		p = normalizePath(p)
		if _, dup := seen[p]; dup {
			return fmt.Errorf("duplicate endpoint path %q", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}
