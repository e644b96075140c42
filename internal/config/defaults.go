package config

import (
	"os"
	"path/filepath"
	"time"
)

// AppName names the config and data directories.
const AppName = "tasky"

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8080/",
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path: filepath.Join(DataDir(), "tasky.db"),
		},
		Settings: SettingsConfig{
			Path: filepath.Join(ConfigDir(), "settings.toml"),
		},
		Sync: SyncConfig{
			Interval: 5 * time.Minute,
			Debounce: 250 * time.Millisecond,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dashboard: DashboardConfig{
			Port: 8787,
		},
	}
}

// ConfigDir returns the tasky config directory.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// DataDir returns the tasky data directory.
// Uses XDG_DATA_HOME if set, otherwise $HOME/.local/share.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return AppName
	}
	return filepath.Join(home, ".local", "share", AppName)
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ProjectConfigPath returns the path to the project config file
func ProjectConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "tasky.yaml"
	}
	return filepath.Join(cwd, "tasky.yaml")
}
