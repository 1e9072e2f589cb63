package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/xdg/opsgate/internal/token"
)

// ErrExists is returned by Init when the file exists and overwrite is false.
var ErrExists = errors.New("config file already exists")

// DefaultOperatorID is the operator Init configures when none is given.
const DefaultOperatorID = "operator"

// Init writes a default configuration file to path naming operatorID as the
// operator, with a freshly generated token for it. The parent directory is
// created and the file is written with 0600 permissions. It returns the
// generated token.
func Init(path, operatorID string, overwrite bool) (string, error) {
	path = ResolvePath(path)
	if operatorID == "" {
		operatorID = DefaultOperatorID
	}

	_, err := os.Stat(path)
	if err == nil && !overwrite {
		return "", fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat config file: %w", err)
	}

	tok := token.Generate()
	cfg := DefaultConfig()
	cfg.Operator.ID = operatorID
	cfg.Server.Tokens = []TokenEntry{{Token: tok, User: operatorID}}

	if err := Write(path, cfg); err != nil {
		return "", err
	}
	return tok, nil
}

// Write marshals cfg to path, overwriting any existing file. The parent
// directory is created and the file is written with 0600 permissions.
func Write(path string, cfg *Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
