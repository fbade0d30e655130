package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/cloudauth"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns ~/.config/cloudauth, panicking when the
// home directory cannot be determined. Only called from CLI wiring, where
// there is no sensible fallback.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// GetDefaultConfig returns the built-in defaults: ephemeral callback port,
// default storage location, browser launch enabled.
func GetDefaultConfig() Config {
	return Config{}
}

// LoadConfig loads config.yaml from the specified directory. A missing file
// yields the defaults; a malformed file is an error.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	cfg := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("No config.yaml found, using defaults", "path", configFilePath)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}

	slog.Debug("Loaded configuration", "path", configFilePath)
	return cfg, nil
}
