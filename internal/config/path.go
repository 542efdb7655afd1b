package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands environment variables and a leading tilde, then
// makes the path absolute.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	path = os.ExpandEnv(path)

	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	}

	return filepath.Abs(path)
}

// EnsureDir expands path and creates it as a directory when missing.
func EnsureDir(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	expanded, err := ExpandPath(path)
	if err != nil {
		return path, err
	}

	info, err := os.Stat(expanded)
	if err != nil {
		return expanded, os.MkdirAll(expanded, 0o750)
	}
	if !info.IsDir() {
		return expanded, fmt.Errorf("path %s exists but is not a directory", expanded)
	}
	return expanded, nil
}
