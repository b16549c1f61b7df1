// ABOUTME: XDG-based data directory resolution for previewd persistent state.
// ABOUTME: Checks XDG_DATA_HOME, falls back to ~/.local/share/previewd.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultDataDir returns the default data directory for previewd state.
// It checks XDG_DATA_HOME first, then falls back to ~/.local/share/previewd.
func defaultDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "previewd"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "previewd"), nil
}

// resolveDataDir returns the explicit directory when given, otherwise the
// XDG default.
func resolveDataDir(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return defaultDataDir()
}
