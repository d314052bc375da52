// Package config builds the explicit runtime configuration for flowd.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appName = "flowd"

// ExpandPath resolves a leading ~ to the user's home and then expands
// $VAR references. Paths without either come back unchanged.
func ExpandPath(path string) string {
	if rest, ok := strings.CutPrefix(path, "~"); ok && (rest == "" || rest[0] == '/') {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, rest)
		}
	}
	return os.ExpandEnv(path)
}

// ConfigDir is where config.yaml is looked up: $XDG_CONFIG_HOME/flowd,
// falling back to ~/.config/flowd.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", filepath.Join("~", ".config"))
}

// DataDir holds the ledger database: $XDG_DATA_HOME/flowd, falling back to
// ~/.local/share/flowd.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join("~", ".local", "share"))
}

func xdgDir(env, fallback string) string {
	base := os.Getenv(env)
	if !filepath.IsAbs(base) {
		base = fallback
	}
	return ExpandPath(filepath.Join(base, appName))
}
