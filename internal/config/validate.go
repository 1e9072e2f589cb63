package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xdg/opsgate/internal/clog"
)

// minTokenLength rejects tokens short enough to guess.
const minTokenLength = 16

// Validate checks that all fields of a parsed Config contain valid values.
// It returns an error naming the first invalid field.
func Validate(cfg *Config) error {
	if err := validateListenAddr(cfg.Server.Listen, "server.listen"); err != nil {
		return err
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}

	seen := make(map[string]bool, len(cfg.Server.Tokens))
	for i, t := range cfg.Server.Tokens {
		field := fmt.Sprintf("server.tokens[%d]", i)
		if len(t.Token) < minTokenLength {
			return fmt.Errorf("%s.token: must be at least %d characters", field, minTokenLength)
		}
		if strings.TrimSpace(t.User) == "" {
			return fmt.Errorf("%s.user: must not be empty", field)
		}
		if seen[t.Token] {
			return fmt.Errorf("%s.token: duplicate token", field)
		}
		seen[t.Token] = true
	}

	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		return fmt.Errorf("audit.path: required when audit is enabled")
	}

	for i, entry := range cfg.Safety.Denylist {
		if entry == "" {
			return fmt.Errorf("safety.denylist[%d]: must not be empty", i)
		}
	}

	if cfg.Limits.MaxOutput <= 0 {
		return fmt.Errorf("limits.max_output: must be positive, got %d", cfg.Limits.MaxOutput)
	}
	if err := validateDuration(cfg.Limits.CommandTimeout, "limits.command_timeout"); err != nil {
		return err
	}
	if err := validateDuration(cfg.Limits.ConfirmTimeout, "limits.confirm_timeout"); err != nil {
		return err
	}

	if _, err := clog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

// validateListenAddr validates a listen address in the format ":port" or
// "host:port". Port must be in the range 1-65535.
func validateListenAddr(addr, field string) error {
	colonIdx := strings.LastIndex(addr, ":")
	if colonIdx == -1 {
		return fmt.Errorf("%s: invalid format %q, expected host:port or :port", field, addr)
	}

	portStr := addr[colonIdx+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%s: invalid port %q in %q", field, portStr, addr)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s: invalid port number %d, must be 1-65535", field, port)
	}

	return nil
}

// validateDuration validates that d parses as a positive duration. Empty
// selects the default.
func validateDuration(d, field string) error {
	if d == "" {
		return nil
	}
	v, err := time.ParseDuration(d)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", field, d)
	}
	if v <= 0 {
		return fmt.Errorf("%s: must be positive, got %q", field, d)
	}
	return nil
}
