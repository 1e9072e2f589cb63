// Package config provides the opsgate configuration types and their YAML
// loading, validation, and hot reload. The file is typically stored at
// ~/.config/opsgate/config.yaml.
package config

import (
	"time"

	"github.com/xdg/opsgate/internal/token"
)

// Config represents the opsgate configuration file.
type Config struct {
	Operator OperatorConfig `yaml:"operator"`
	Server   ServerConfig   `yaml:"server"`
	Audit    AuditConfig    `yaml:"audit"`
	Safety   SafetyConfig   `yaml:"safety"`
	Limits   LimitsConfig   `yaml:"limits"`
	SSH      SSHConfig      `yaml:"ssh"`
	Log      LogConfig      `yaml:"log"`
}

// OperatorConfig names the single identity allowed to run commands.
type OperatorConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig contains chat frontend settings.
type ServerConfig struct {
	Listen         string       `yaml:"listen"`
	AllowedOrigins []string     `yaml:"allowed_origins"`
	TLSCert        string       `yaml:"tls_cert"`
	TLSKey         string       `yaml:"tls_key"`
	Tokens         []TokenEntry `yaml:"tokens"`
}

// TokenEntry maps a bearer token to the user it authenticates.
type TokenEntry struct {
	Token string `yaml:"token"`
	User  string `yaml:"user"`
}

// AuditConfig contains audit log settings.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SafetyConfig contains the shell denylist.
type SafetyConfig struct {
	Denylist []string `yaml:"denylist"`
}

// LimitsConfig bounds output size and execution time.
type LimitsConfig struct {
	MaxOutput      int    `yaml:"max_output"`
	CommandTimeout string `yaml:"command_timeout"`
	ConfirmTimeout string `yaml:"confirm_timeout"`
}

// SSHConfig contains remote shell settings. An empty KnownHosts accepts any
// host key.
type SSHConfig struct {
	KnownHosts string `yaml:"known_hosts"`
}

// LogConfig contains operational logging settings.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// CommandTimeout returns limits.command_timeout, or the default when unset
// or invalid.
func (c *Config) CommandTimeout() time.Duration {
	return durationOr(c.Limits.CommandTimeout, defaultCommandTimeout)
}

// ConfirmTimeout returns limits.confirm_timeout, or the default when unset
// or invalid.
func (c *Config) ConfirmTimeout() time.Duration {
	return durationOr(c.Limits.ConfirmTimeout, defaultConfirmTimeout)
}

// TokenMap returns the configured tokens keyed by token.
func (c *Config) TokenMap() map[string]string {
	m := make(map[string]string, len(c.Server.Tokens))
	for _, t := range c.Server.Tokens {
		m[t.Token] = t.User
	}
	return m
}

// Masked returns a copy of c with tokens masked, for display.
func (c *Config) Masked() *Config {
	out := *c
	out.Server.Tokens = make([]TokenEntry, len(c.Server.Tokens))
	for i, t := range c.Server.Tokens {
		out.Server.Tokens[i] = TokenEntry{Token: token.Mask(t.Token), User: t.User}
	}
	return &out
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
