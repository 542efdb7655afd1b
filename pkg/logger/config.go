package logger

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Format is the record encoding of an output.
type Format string

// Level is a level name as written in the config file.
type Level string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const (
	defaultMaxSizeMB  = 50
	defaultMaxBackups = 5
	defaultMaxAgeDays = 14
	defaultFilename   = "telebridge.log"
)

// ConsoleConfig configures stdout logging.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Level   Level  `yaml:"level"   json:"level"`
	Format  Format `yaml:"format"  json:"format"`
}

// FileConfig configures the rotating log file. Sizes are in megabytes
// and ages in days.
type FileConfig struct {
	Enabled    bool   `yaml:"enabled"     json:"enabled"`
	Level      Level  `yaml:"level"       json:"level"`
	Format     Format `yaml:"format"      json:"format"`
	Filename   string `yaml:"filename"    json:"filename"`
	MaxSize    int    `yaml:"max_size"    json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age"     json:"max_age"`
	Compress   bool   `yaml:"compress"    json:"compress"`
}

// Config holds both outputs. Disabled outputs are not validated.
type Config struct {
	Console ConsoleConfig `yaml:"console" json:"console"`
	File    FileConfig    `yaml:"file"    json:"file"`
}

// DefaultConfig logs text to stdout. File output is opt-in because the
// bridge usually runs under a supervisor that captures stdout.
func DefaultConfig() Config {
	return Config{
		Console: ConsoleConfig{
			Enabled: true,
			Level:   LevelInfo,
			Format:  FormatText,
		},
		File: FileConfig{
			Level:      LevelInfo,
			Format:     FormatJSON,
			Filename:   defaultFilename,
			MaxSize:    defaultMaxSizeMB,
			MaxBackups: defaultMaxBackups,
			MaxAge:     defaultMaxAgeDays,
			Compress:   true,
		},
	}
}

// Validate checks every enabled output.
func (c *Config) Validate() error {
	if c.Console.Enabled {
		if err := validateOutput(c.Console.Level, c.Console.Format); err != nil {
			return fmt.Errorf("console: %w", err)
		}
	}
	if err := c.File.Validate(); err != nil {
		return fmt.Errorf("file: %w", err)
	}
	return nil
}

// Validate checks the file output when enabled.
func (fc *FileConfig) Validate() error {
	if !fc.Enabled {
		return nil
	}
	if err := validateOutput(fc.Level, fc.Format); err != nil {
		return err
	}
	switch {
	case fc.Filename == "":
		return errors.New("filename cannot be empty")
	case fc.MaxSize <= 0:
		return errors.New("max_size must be positive")
	case fc.MaxBackups < 0:
		return errors.New("max_backups cannot be negative")
	case fc.MaxAge < 0:
		return errors.New("max_age cannot be negative")
	}
	return nil
}

func validateOutput(level Level, format Format) error {
	if _, err := level.toSlogLevel(); err != nil {
		return err
	}
	if format != FormatText && format != FormatJSON {
		return fmt.Errorf("invalid format %q", format)
	}
	return nil
}

// SetLevel overrides the level of every output, as the -l flag does.
func (c *Config) SetLevel(level Level) error {
	if _, err := level.toSlogLevel(); err != nil {
		return err
	}
	c.Console.Level = level
	c.File.Level = level
	return nil
}

func (l Level) toSlogLevel() (slog.Level, error) {
	return ParseLevel(string(l))
}

// ParseLevel converts a level name such as "debug" or "WARN" to slog.Level.
// "warning" is accepted as an alias of "warn".
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
}
