package logger

import (
	"log/slog"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if !c.Console.Enabled || c.File.Enabled {
		t.Errorf("expected console only, got %+v", c)
	}
	if c.File.Filename != defaultFilename || c.File.MaxSize != defaultMaxSizeMB {
		t.Errorf("file defaults = %+v", c.File)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{
			name:    "console level",
			mutate:  func(c *Config) { c.Console.Level = "loud" },
			wantErr: "console: invalid log level",
		},
		{
			name:    "console format",
			mutate:  func(c *Config) { c.Console.Format = "xml" },
			wantErr: "console: invalid format",
		},
		{
			name: "disabled console is not checked",
			mutate: func(c *Config) {
				c.Console.Enabled = false
				c.Console.Level = "loud"
			},
		},
		{
			name: "disabled file is not checked",
			mutate: func(c *Config) {
				c.File.Filename = ""
			},
		},
		{
			name: "file without name",
			mutate: func(c *Config) {
				c.File.Enabled = true
				c.File.Filename = ""
			},
			wantErr: "file: filename cannot be empty",
		},
		{
			name: "file zero size",
			mutate: func(c *Config) {
				c.File.Enabled = true
				c.File.MaxSize = 0
			},
			wantErr: "max_size",
		},
		{
			name: "file negative backups",
			mutate: func(c *Config) {
				c.File.Enabled = true
				c.File.MaxBackups = -1
			},
			wantErr: "max_backups",
		},
		{
			name: "file negative age",
			mutate: func(c *Config) {
				c.File.Enabled = true
				c.File.MaxAge = -1
			},
			wantErr: "max_age",
		},
		{
			name: "file level",
			mutate: func(c *Config) {
				c.File.Enabled = true
				c.File.Level = "trace"
			},
			wantErr: "file: invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_SetLevel(t *testing.T) {
	c := DefaultConfig()
	if err := c.SetLevel(LevelDebug); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if c.Console.Level != LevelDebug || c.File.Level != LevelDebug {
		t.Errorf("levels = %q/%q", c.Console.Level, c.File.Level)
	}
	if err := c.SetLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
	if c.Console.Level != LevelDebug {
		t.Error("failed SetLevel changed the config")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"Error", slog.LevelError, false},
		{"", slog.LevelInfo, true},
		{"fatal", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
