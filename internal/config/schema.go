// Package config loads tasky's configuration.
//
// Sources are layered, later ones winning:
//
//	defaults
//	~/.config/tasky/config.yaml     (global)
//	./tasky.yaml or --config        (project)
//	TASKY_* environment variables   (.env is loaded first)
//
// Environment variable names are the key with dots replaced by
// underscores, e.g. TASKY_API_BASE_URL for api.base_url.
package config

import "time"

// Config represents the full tasky configuration
type Config struct {
	API       APIConfig       `yaml:"api" mapstructure:"api"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Settings  SettingsConfig  `yaml:"settings" mapstructure:"settings"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
}

// APIConfig configures the Tasky API client
type APIConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Key     string        `yaml:"key" mapstructure:"key"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// StoreConfig locates the local database
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SettingsConfig locates the settings (session) file
type SettingsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SyncConfig configures background reconciliation
type SyncConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`

	// Timezone sets day boundaries, as an IANA name. Empty means local time.
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// LogConfig configures the log file. An empty File logs to stderr only.
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// DashboardConfig configures the daemon's WebSocket dashboard
type DashboardConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}
