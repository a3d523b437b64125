package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads path as a TOML file and returns a Config seeded with
// NewDefaultConfig's defaults and overridden by whatever the file sets.
// A missing file is not an error: the engine then runs on defaults
// alone. Setting only one of DBFile/DBPath in the file copies it to
// the other.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	defaultFile, defaultPath := cfg.DBFile, cfg.DBPath
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	switch {
	case cfg.DBFile != defaultFile && cfg.DBPath == defaultPath:
		cfg.DBPath = cfg.DBFile
	case cfg.DBPath != defaultPath && cfg.DBFile == defaultFile:
		cfg.DBFile = cfg.DBPath
	}
	if cfg.DBPath == "" {
		cfg.DBPath = cfg.DBFile
	}
	if cfg.DBFile == "" {
		cfg.DBFile = cfg.DBPath
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}
