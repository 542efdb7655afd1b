package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigInitValidateShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telebridge.yaml")

	out, err := run(t, "config", "init", "-c", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("init output = %q", out)
	}

	if _, err := run(t, "config", "init", "-c", path); err == nil || !strings.Contains(err.Error(), "--force") {
		t.Errorf("second init error = %v, want hint about --force", err)
	}
	if _, err := run(t, "config", "init", "-c", path, "--force"); err != nil {
		t.Errorf("forced init: %v", err)
	}

	if out, err := run(t, "config", "validate", "-c", path); err != nil || !strings.Contains(out, "is valid") {
		t.Errorf("validate = %q, %v", out, err)
	}

	out, err = run(t, "config", "show", "-c", path, "-f", "summary",
		"--node-id", "stb-override", "--nats-url", "nats://10.0.0.1:4222", "--log-level", "debug")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"Node ID: stb-override", "nats://10.0.0.1:4222", "Console Log Level: debug"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestConfigShow_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telebridge.yaml")
	if _, err := run(t, "config", "init", "-c", path); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "config", "show", "-c", path, "-f", "json")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, `"node_id"`) {
		t.Errorf("json output missing bridge config:\n%s", out)
	}
}

func TestConfigFlagErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telebridge.yaml")
	tests := []struct {
		name string
		args []string
	}{
		{"bad log level", []string{"config", "validate", "-c", path, "-l", "loud"}},
		{"bad node id", []string{"config", "validate", "-c", path, "--node-id", "a.b"}},
		{"bad format", []string{"config", "show", "-c", path, "-f", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "telebridge ") {
		t.Errorf("version output = %q", out)
	}
}
