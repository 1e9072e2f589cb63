package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/xdg/opsgate/internal/clog"
)

// Environment variables that override the file.
const (
	EnvOperatorID   = "OPSGATE_OPERATOR_ID"
	EnvAuditLogPath = "OPSGATE_AUDIT_LOG_PATH"
)

// Load loads the configuration from path, or from DefaultPath when path is
// empty. A missing file yields DefaultConfig. Environment overrides are
// applied before validation and all ~ paths are expanded.
func Load(path string) (*Config, error) {
	path = ResolvePath(path)
	clog.Debug("config: loading %s", path)

	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	ApplyEnv(cfg, os.Getenv)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	expandPaths(cfg)
	return cfg, nil
}

func read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			clog.Debug("config: %s not found, using defaults", path)
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides configuration fields from environment variables read
// through getenv. Empty values are ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvOperatorID); v != "" {
		cfg.Operator.ID = v
	}
	if v := getenv(EnvAuditLogPath); v != "" {
		cfg.Audit.Path = v
	}
}

// expandPaths expands ~ to the home directory in all path fields.
func expandPaths(cfg *Config) {
	cfg.Audit.Path = ExpandHome(cfg.Audit.Path)
	cfg.Log.File = ExpandHome(cfg.Log.File)
	cfg.SSH.KnownHosts = ExpandHome(cfg.SSH.KnownHosts)
	cfg.Server.TLSCert = ExpandHome(cfg.Server.TLSCert)
	cfg.Server.TLSKey = ExpandHome(cfg.Server.TLSKey)
}
