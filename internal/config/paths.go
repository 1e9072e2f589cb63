package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dir returns the opsgate configuration directory. By default this is
// ~/.config/opsgate; if XDG_CONFIG_HOME is set, $XDG_CONFIG_HOME/opsgate.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = "~/.config"
	}
	return filepath.Join(ExpandHome(base), "opsgate")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// ResolvePath returns path with ~ expanded, or DefaultPath when path is empty.
func ResolvePath(path string) string {
	if path == "" {
		return DefaultPath()
	}
	return ExpandHome(path)
}

// EnsureDir creates the parent directory of path with user-only permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading ~ in path with the user's home directory.
// If the home directory cannot be determined, the path is returned unchanged.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
