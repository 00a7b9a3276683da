package config

import (
	"errors"
	"fmt"
	"os"
)

// InitResult carries the secrets generated during first-run setup. The PIN
// is returned in the clear exactly once; only its hash is persisted.
type InitResult struct {
	Config   Config
	AdminPIN string
}

// ErrAlreadyInitialized signals that a config file already exists.
var ErrAlreadyInitialized = errors.New("config already exists")

// Init performs first-run setup: creates ConfigDir with owner-only
// permissions, generates the auth token and admin PIN, and writes the
// config file atomically.
func Init(cfg Config, force bool) (InitResult, error) {
	var res InitResult

	if !force {
		if _, err := os.Stat(cfg.ConfigFilePath()); err == nil {
			return res, fmt.Errorf("%w at %s (use --force to overwrite)", ErrAlreadyInitialized, cfg.ConfigFilePath())
		}
	}

	if err := os.MkdirAll(cfg.ConfigDir, 0o700); err != nil {
		return res, fmt.Errorf("create config dir: %w", err)
	}

	if cfg.Token == "" {
		token, err := GenerateToken()
		if err != nil {
			return res, err
		}
		cfg.Token = token
	}

	pin, err := GeneratePIN()
	if err != nil {
		return res, err
	}
	cfg.AdminPINHash = HashPIN(pin)

	if err := Save(cfg); err != nil {
		return res, err
	}

	res.Config = cfg
	res.AdminPIN = pin
	return res, nil
}
