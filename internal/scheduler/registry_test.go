package scheduler

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func noop(context.Context, Collector) error { return nil }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.Add(Collector{Name: "streaming", Config: StreamingConfig{}}, noop); err != nil {
		t.Fatalf("Add(streaming) error = %v", err)
	}
	if err := r.Add(Collector{Name: "app_usage", Config: AppUsageConfig{}}, noop); err != nil {
		t.Fatalf("Add(app_usage) error = %v", err)
	}
	return r
}

func TestRegistry_Add(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name string
		c    Collector
		run  RunFunc
	}{
		{name: "empty name", c: Collector{Config: AppUsageConfig{}}, run: noop},
		{name: "nil run", c: Collector{Name: "x", Config: AppUsageConfig{}}},
		{name: "nil config", c: Collector{Name: "x"}, run: noop},
		{name: "negative interval", c: Collector{Name: "x", Interval: -time.Second, Config: AppUsageConfig{}}, run: noop},
		{name: "one-shot streaming", c: Collector{Name: "x", OneShot: true, Config: StreamingConfig{}}, run: noop},
		{name: "duplicate", c: Collector{Name: "streaming", Config: StreamingConfig{}}, run: noop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Add(tt.c, tt.run); err == nil {
				t.Error("Add() should fail")
			}
		})
	}

	if got := r.Names(); !slices.Equal(got, []string{"streaming", "app_usage"}) {
		t.Errorf("Names() = %v", got)
	}
	c, _ := r.Get("streaming")
	if c.LastFiredAt.IsZero() {
		t.Error("Add() should initialize LastFiredAt")
	}
	if c.State() != Disabled {
		t.Errorf("new collector state = %s, want DISABLED", c.State())
	}
}

func TestRegistry_ConfigInputs(t *testing.T) {
	tests := []struct {
		name    string
		apply   func(r *Registry) error
		wantErr error
		check   func(t *testing.T, r *Registry)
	}{
		{
			name:    "unknown stream",
			apply:   func(r *Registry) error { return r.SetInterval("nope", 10) },
			wantErr: ErrInvalidStream,
		},
		{
			name:    "negative interval",
			apply:   func(r *Registry) error { return r.SetInterval("streaming", -1) },
			wantErr: ErrInvalidValue,
		},
		{
			name:  "set interval arms",
			apply: func(r *Registry) error { return r.SetInterval("streaming", 10) },
			check: func(t *testing.T, r *Registry) {
				c, _ := r.Get("streaming")
				if c.State() != Armed || c.Interval != 10*time.Second {
					t.Errorf("collector = %+v", c)
				}
			},
		},
		{
			name:  "set topic",
			apply: func(r *Registry) error { return r.SetTopic("app_usage", "AppUsageTopic") },
			check: func(t *testing.T, r *Registry) {
				if c, _ := r.Get("app_usage"); c.Topic != "AppUsageTopic" {
					t.Errorf("Topic = %q", c.Topic)
				}
			},
		},
		{
			name:  "streaming filters",
			apply: func(r *Registry) error { return r.SetExtra("streaming", "netflix| youtube ||") },
			check: func(t *testing.T, r *Registry) {
				c, _ := r.Get("streaming")
				cfg := c.Config.(StreamingConfig)
				if !slices.Equal(cfg.AppFilters, []string{"netflix", "youtube"}) {
					t.Errorf("AppFilters = %v", cfg.AppFilters)
				}
				if !cfg.Accepts("youtube") || cfg.Accepts("hulu") {
					t.Error("Accepts() does not honor filters")
				}
			},
		},
		{
			name:  "app usage period",
			apply: func(r *Registry) error { return r.SetExtra("app_usage", "3600") },
			check: func(t *testing.T, r *Registry) {
				c, _ := r.Get("app_usage")
				if got := c.Config.(AppUsageConfig).Window(); got != 3600 {
					t.Errorf("Window() = %d", got)
				}
			},
		},
		{
			name:    "app usage period malformed",
			apply:   func(r *Registry) error { return r.SetExtra("app_usage", "soon") },
			wantErr: ErrInvalidValue,
		},
		{
			name:    "one-shot rejected for streaming",
			apply:   func(r *Registry) error { return r.RequestOneShot("streaming") },
			wantErr: ErrInvalidValue,
		},
		{
			name: "one-shot overrides interval",
			apply: func(r *Registry) error {
				if err := r.SetInterval("app_usage", 60); err != nil {
					return err
				}
				return r.RequestOneShot("app_usage")
			},
			check: func(t *testing.T, r *Registry) {
				if c, _ := r.Get("app_usage"); c.State() != OneShot || c.Interval != 0 {
					t.Errorf("collector = %+v", c)
				}
			},
		},
		{
			name: "delete clears one-shot",
			apply: func(r *Registry) error {
				if err := r.RequestOneShot("app_usage"); err != nil {
					return err
				}
				return r.DeleteInterval("app_usage")
			},
			check: func(t *testing.T, r *Registry) {
				if c, _ := r.Get("app_usage"); c.State() != Disabled {
					t.Errorf("state = %s", c.State())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry(t)
			err := tt.apply(r)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if tt.check != nil {
				tt.check(t, r)
			}
		})
	}
}

func TestRegistry_OnChange(t *testing.T) {
	r := newTestRegistry(t)
	var got []Collector
	r.OnChange(func(c Collector) { got = append(got, c) })

	_ = r.SetTopic("streaming", "StreamingTopic")
	_ = r.SetTopic("missing", "x")

	if len(got) != 1 || got[0].Topic != "StreamingTopic" {
		t.Errorf("changes = %+v", got)
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Kind: InvalidStream, Stream: "bogus"}
	if !errors.Is(err, ErrInvalidStream) || errors.Is(err, ErrInvalidValue) {
		t.Error("kind matching broken")
	}
	if err.Error() != "scheduler: invalid stream bogus" {
		t.Errorf("Error() = %q", err.Error())
	}
}
