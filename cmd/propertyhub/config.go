package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/config"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/logging"
)

// configPath returns the configuration file path: the --config flag, then
// PROPERTYHUB_CONFIG, then the default.
func configPath() (path string, explicit bool) {
	if cfgFile != "" {
		return cfgFile, true
	}
	if env := os.Getenv("PROPERTYHUB_CONFIG"); env != "" {
		return env, true
	}
	return defaultConfigPath, false
}

// loadConfig loads the configuration file. A missing file at the default
// path falls back to built-in defaults; a missing explicit path is an error.
func loadConfig(log *logging.Logger) (*config.Config, error) {
	path, explicit := configPath()

	cfg, err := config.Load(path)
	if err == nil {
		log.Info("configuration loaded", "path", path)
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		log.Warn("no configuration file, using defaults", "path", path)
		return config.Default(), nil
	}
	return nil, fmt.Errorf("loading config: %w", err)
}
