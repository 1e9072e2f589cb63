package config

import (
	"slices"
	"time"

	"github.com/xdg/opsgate/internal/safety"
	"github.com/xdg/opsgate/internal/sanitize"
)

const (
	defaultListen         = "127.0.0.1:8790"
	defaultCommandTimeout = 10 * time.Second
	defaultConfirmTimeout = 15 * time.Second
)

// DefaultConfig returns a Config with all defaults populated. Paths keep
// their ~ prefix; Load expands them.
//
// The defaults name no operator and no tokens, so a server started from
// them accepts no commands until the file is initialized.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: defaultListen,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "~/.local/state/opsgate/audit.log",
		},
		Safety: SafetyConfig{
			Denylist: slices.Clone(safety.DefaultDenylist),
		},
		Limits: LimitsConfig{
			MaxOutput:      sanitize.DefaultMaxLength,
			CommandTimeout: defaultCommandTimeout.String(),
			ConfirmTimeout: defaultConfirmTimeout.String(),
		},
		Log: LogConfig{
			File:  "~/.local/state/opsgate/opsgate.log",
			Level: "info",
		},
	}
}
