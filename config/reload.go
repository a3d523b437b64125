package config

import (
	"fmt"
	"log/slog"
)

// Reload returns a function that, when called, re-reads path and
// atomically swaps the Provider's Config. It is meant to be invoked
// from a SIGHUP handler in cmd/verifierd.
func Reload(path string, provider *Provider, logger *slog.Logger) func() error {
	return func() error {
		logger.Info("config: reload requested", "path", path)

		newCfg, err := Load(path)
		if err != nil {
			logger.Error("config: reload failed", "path", path, "error", err)
			return fmt.Errorf("config: reload %s: %w", path, err)
		}

		provider.Update(newCfg)
		logger.Info("config: reload applied", "path", path)
		return nil
	}
}
