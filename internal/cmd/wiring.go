package cmd

import (
	"github.com/xdg/opsgate/internal/audit"
	"github.com/xdg/opsgate/internal/backend"
	"github.com/xdg/opsgate/internal/clog"
	"github.com/xdg/opsgate/internal/config"
	"github.com/xdg/opsgate/internal/dispatch"
	"github.com/xdg/opsgate/internal/gate"
	"github.com/xdg/opsgate/internal/safety"
)

// buildDispatcher wires the request pipeline from cfg. A nil hostKeys
// accepts any SSH host key.
func buildDispatcher(cfg *config.Config, hostKeys backend.HostKeyCallback, presenter dispatch.Presenter) *dispatch.Dispatcher {
	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		auditLog = audit.NewFileLogger(cfg.Audit.Path)
		clog.Debug("audit: writing to %s", cfg.Audit.Path)
	} else {
		clog.Warn("audit: logging is disabled")
	}

	return dispatch.New(dispatch.Options{
		OperatorID:     cfg.Operator.ID,
		Filter:         safety.NewFilter(cfg.Safety.Denylist),
		Gate:           gate.NewWithTimeout(cfg.ConfirmTimeout()),
		Backends:       backend.DefaultSet(hostKeys),
		Audit:          auditLog,
		Presenter:      presenter,
		MaxOutput:      cfg.Limits.MaxOutput,
		CommandTimeout: cfg.CommandTimeout(),
	})
}

// loadHostKeys returns the host key callback for cfg, warning when host keys
// go unverified.
func loadHostKeys(cfg *config.Config) (backend.HostKeyCallback, error) {
	cb, insecure, err := backend.HostKeys(cfg.SSH.KnownHosts)
	if err != nil {
		return nil, err
	}
	if insecure {
		clog.Warn("ssh: no known_hosts file configured; remote host keys are not verified")
	}
	return cb, nil
}
