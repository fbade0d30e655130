package cmd

import (
	"fmt"

	"cloudauth/internal/config"
	"cloudauth/internal/credstore"
)

// loadConfig loads the YAML config from --config or the default directory.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}
	return config.LoadConfig(path)
}

// openStore opens the credential store, honoring a storage directory override
// from the config file.
func openStore(cfg config.Config) (*credstore.Store, error) {
	return credstore.New(credstore.Config{StorageDir: cfg.Login.StorageDir})
}

// resolveServerURL picks the server URL from the flag, falling back to the
// config file.
func resolveServerURL(flagValue string, cfg config.Config) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.Server.URL != "" {
		return cfg.Server.URL, nil
	}
	return "", fmt.Errorf("no server URL given: use --server or set server.url in the config file")
}

// infoPrintf prints informational output unless --quiet is set.
func infoPrintf(format string, args ...any) {
	if quiet {
		return
	}
	fmt.Printf(format, args...)
}
