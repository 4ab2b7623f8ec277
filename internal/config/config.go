// Package config provides configuration loading for the pipeline server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Option defines the interface for configuration loading options
type Option func(*loaderConfig) error

// loaderConfig defines how a configuration is loaded
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Address is the HTTP listen address
	Address string `yaml:"address,omitempty"`

	Database *DatabaseConfig `yaml:"database"`

	Snapshot *SnapshotConfig `yaml:"snapshot,omitempty"`

	Realtime *RealtimeConfig `yaml:"realtime,omitempty"`

	Sync *SyncConfig `yaml:"sync,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// Recommended for production deployments.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum size of the connection pool
	MaxConns int32 `yaml:"maxConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// SnapshotConfig defines the local first-paint snapshot store
type SnapshotConfig struct {
	// Dir is the directory snapshots are written to. Empty disables
	// snapshots.
	Dir string `yaml:"dir,omitempty"`
}

// RealtimeConfig defines the change-feed subscription
type RealtimeConfig struct {
	// Channel is the Postgres NOTIFY channel name
	Channel string `yaml:"channel,omitempty"`

	// Buffer is the subscriber channel buffer size
	Buffer int `yaml:"buffer,omitempty"`

	// Disabled turns the feed off; the periodic resync still runs
	Disabled bool `yaml:"disabled,omitempty"`
}

// SyncConfig tunes the synchronizer's background behavior
type SyncConfig struct {
	// ResyncInterval is the periodic full-resync interval (e.g. "5m")
	ResyncInterval string `yaml:"resyncInterval,omitempty"`

	// PrefetchDebounce is the delay before a background prefetch (e.g. "250ms")
	PrefetchDebounce string `yaml:"prefetchDebounce,omitempty"`

	// PrefetchDisabled turns off one-page-ahead prefetching
	PrefetchDisabled bool `yaml:"prefetchDisabled,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from PIPELINE_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("PIPELINE_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or PIPELINE_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string. The password
// is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	escapedPassword := url.QueryEscape(password)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		escapedPassword,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetAddress returns the listen address, defaulting to :8080.
func (c *Config) GetAddress() string {
	if c.Address == "" {
		return ":8080"
	}
	return c.Address
}

// GetResyncInterval parses the resync interval, defaulting to 5 minutes.
func (c *Config) GetResyncInterval() (time.Duration, error) {
	if c.Sync == nil || c.Sync.ResyncInterval == "" {
		return 5 * time.Minute, nil
	}
	d, err := time.ParseDuration(c.Sync.ResyncInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid resync interval: %w", err)
	}
	return d, nil
}

// GetPrefetchDebounce parses the prefetch debounce, defaulting to 250ms.
func (c *Config) GetPrefetchDebounce() (time.Duration, error) {
	if c.Sync == nil || c.Sync.PrefetchDebounce == "" {
		return 250 * time.Millisecond, nil
	}
	d, err := time.ParseDuration(c.Sync.PrefetchDebounce)
	if err != nil {
		return 0, fmt.Errorf("invalid prefetch debounce: %w", err)
	}
	return d, nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Database.ConnMaxLifetime); err != nil {
			return fmt.Errorf("invalid connection max lifetime: %w", err)
		}
	}

	if _, err := c.GetResyncInterval(); err != nil {
		return err
	}
	if _, err := c.GetPrefetchDebounce(); err != nil {
		return err
	}

	return nil
}
