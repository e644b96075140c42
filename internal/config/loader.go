package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment variable overrides.
const EnvPrefix = "TASKY"

// Options selects configuration sources. Empty paths are skipped.
type Options struct {
	// GlobalPath is the user-wide config file (missing is fine)
	GlobalPath string

	// ProjectPath is the per-directory config file (missing is fine)
	ProjectPath string

	// ExplicitPath comes from --config and must exist. It replaces ProjectPath.
	ExplicitPath string

	// EnvFile is a dotenv file loaded into the environment (missing is fine)
	EnvFile string
}

// DefaultOptions returns the standard source locations.
func DefaultOptions(explicit string) Options {
	return Options{
		GlobalPath:   GlobalConfigPath(),
		ProjectPath:  ProjectConfigPath(),
		ExplicitPath: explicit,
		EnvFile:      ".env",
	}
}

// Load loads and merges configuration from the standard locations. explicit
// is the --config flag value, possibly empty.
func Load(explicit string) (*Config, error) {
	return LoadWith(DefaultOptions(explicit))
}

// LoadWith loads and merges configuration from the given sources.
func LoadWith(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if err := mergeFile(v, opts.GlobalPath, false); err != nil {
		return nil, err
	}
	if opts.ExplicitPath != "" {
		if err := mergeFile(v, opts.ExplicitPath, true); err != nil {
			return nil, err
		}
	} else if err := mergeFile(v, opts.ProjectPath, false); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(v *viper.Viper, path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every leaf of cfg as a viper default, so that
// AutomaticEnv can override keys that no file mentions.
func setDefaults(v *viper.Viper, cfg *Config) {
	var walk func(prefix string, rv reflect.Value)
	walk = func(prefix string, rv reflect.Value) {
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			key := f.Tag.Get("mapstructure")
			if prefix != "" {
				key = prefix + "." + key
			}
			fv := rv.Field(i)
			if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Duration(0)) {
				walk(key, fv)
				continue
			}
			v.SetDefault(key, fv.Interface())
		}
	}
	walk("", reflect.ValueOf(cfg).Elem())
}

// Validate checks values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, fmt.Errorf("api.base_url cannot be empty"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive (got %v)", c.API.Timeout))
	}
	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path cannot be empty"))
	}
	if c.Settings.Path == "" {
		errs = append(errs, fmt.Errorf("settings.path cannot be empty"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive (got %v)", c.Sync.Interval))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port out of range (got %d)", c.Dashboard.Port))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location returns the time zone that sets day boundaries.
func (c *Config) Location() (*time.Location, error) {
	if c.Sync.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid sync.timezone %q: %w", c.Sync.Timezone, err)
	}
	return loc, nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.API.Key != "" {
		cp.API.Key = "********"
	}
	return &cp
}

// WriteYAML writes the configuration as YAML.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
