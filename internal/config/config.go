// Package config loads the service configuration from a YAML file, an
// optional .env file and CALBOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig selects the database driver and connection string.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite3 or a connection URL for postgres.
	DSN string `yaml:"dsn"`
}

// MatrixConfig holds the Matrix client-server API credentials.
type MatrixConfig struct {
	HomeserverURL string `yaml:"homeserver_url"`
	AccessToken   string `yaml:"access_token"`
}

// TelegramConfig holds the Telegram bot credentials.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// MessagingConfig selects where reminders are delivered.
type MessagingConfig struct {
	// Backend is "matrix" or "telegram".
	Backend  string         `yaml:"backend"`
	Matrix   MatrixConfig   `yaml:"matrix"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// SyncConfig tunes calendar fetching and occurrence expansion.
type SyncConfig struct {
	DefaultIntervalMinutes int `yaml:"default_interval_minutes"`
	LookbackDays           int `yaml:"lookback_days"`
	WindowPastDays         int `yaml:"window_past_days"`
	WindowFutureDays       int `yaml:"window_future_days"`
	HTTPTimeoutSeconds     int `yaml:"http_timeout_seconds"`
}

// RemindersConfig tunes the reminder scheduler.
type RemindersConfig struct {
	MaxSleepMinutes        int `yaml:"max_sleep_minutes"`
	IdentityRefreshMinutes int `yaml:"identity_refresh_minutes"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	Database  DatabaseConfig  `yaml:"database"`
	Messaging MessagingConfig `yaml:"messaging"`
	Sync      SyncConfig      `yaml:"sync"`
	Reminders RemindersConfig `yaml:"reminders"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    ":8099",
		LogLevel:  "info",
		LogFormat: "text",
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "/data/calendar-bot.db",
		},
		Messaging: MessagingConfig{
			Backend: "matrix",
		},
		Sync: SyncConfig{
			DefaultIntervalMinutes: 5,
			LookbackDays:           180,
			WindowPastDays:         7,
			WindowFutureDays:       30,
			HTTPTimeoutSeconds:     30,
		},
		Reminders: RemindersConfig{
			MaxSleepMinutes:        5,
			IdentityRefreshMinutes: 5,
		},
	}
}

// Normalize fills in missing or zero values with defaults so that
// partially-filled files still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.Database.Driver == "" {
		c.Database.Driver = d.Database.Driver
	}
	if c.Database.DSN == "" && c.Database.Driver == d.Database.Driver {
		c.Database.DSN = d.Database.DSN
	}
	if c.Messaging.Backend == "" {
		c.Messaging.Backend = d.Messaging.Backend
	}
	c.Messaging.Matrix.HomeserverURL = strings.TrimRight(c.Messaging.Matrix.HomeserverURL, "/")

	if c.Sync.DefaultIntervalMinutes <= 0 {
		c.Sync.DefaultIntervalMinutes = d.Sync.DefaultIntervalMinutes
	}
	if c.Sync.LookbackDays <= 0 {
		c.Sync.LookbackDays = d.Sync.LookbackDays
	}
	if c.Sync.WindowPastDays <= 0 {
		c.Sync.WindowPastDays = d.Sync.WindowPastDays
	}
	if c.Sync.WindowFutureDays <= 0 {
		c.Sync.WindowFutureDays = d.Sync.WindowFutureDays
	}
	if c.Sync.HTTPTimeoutSeconds <= 0 {
		c.Sync.HTTPTimeoutSeconds = d.Sync.HTTPTimeoutSeconds
	}
	if c.Reminders.MaxSleepMinutes <= 0 {
		c.Reminders.MaxSleepMinutes = d.Reminders.MaxSleepMinutes
	}
	if c.Reminders.IdentityRefreshMinutes <= 0 {
		c.Reminders.IdentityRefreshMinutes = d.Reminders.IdentityRefreshMinutes
	}
}

// Validate reports configuration that cannot be started with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	switch c.Messaging.Backend {
	case "matrix":
		if c.Messaging.Matrix.HomeserverURL == "" || c.Messaging.Matrix.AccessToken == "" {
			return errors.New("messaging.matrix: homeserver_url and access_token are required")
		}
	case "telegram":
		if c.Messaging.Telegram.Token == "" {
			return errors.New("messaging.telegram.token is required")
		}
	default:
		return fmt.Errorf("messaging.backend: unsupported backend %q", c.Messaging.Backend)
	}

	return nil
}

// WindowPast is the look-behind of the stored occurrence window.
func (s SyncConfig) WindowPast() time.Duration {
	return time.Duration(s.WindowPastDays) * 24 * time.Hour
}

// WindowFuture is the look-ahead of the stored occurrence window.
func (s SyncConfig) WindowFuture() time.Duration {
	return time.Duration(s.WindowFutureDays) * 24 * time.Hour
}

// Lookback is how far back the CalDAV query reaches.
func (s SyncConfig) Lookback() time.Duration {
	return time.Duration(s.LookbackDays) * 24 * time.Hour
}

// HTTPTimeout bounds a single feed request.
func (s SyncConfig) HTTPTimeout() time.Duration {
	return time.Duration(s.HTTPTimeoutSeconds) * time.Second
}

// MaxSleep caps how long the reminder loop sleeps between passes.
func (r RemindersConfig) MaxSleep() time.Duration {
	return time.Duration(r.MaxSleepMinutes) * time.Minute
}

// IdentityRefresh is the interval between identity cache reloads.
func (r RemindersConfig) IdentityRefresh() time.Duration {
	return time.Duration(r.IdentityRefreshMinutes) * time.Minute
}

// Load reads the YAML file at path (a missing file yields defaults), loads
// envFile into the environment when it exists, then applies CALBOT_*
// overrides and normalizes the result.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			cfg = &Config{}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnv(cfg, os.LookupEnv)
	cfg.Normalize()

	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("CALBOT_LISTEN", &cfg.Listen)
	set("CALBOT_LOG_LEVEL", &cfg.LogLevel)
	set("CALBOT_LOG_FORMAT", &cfg.LogFormat)
	set("CALBOT_DATABASE_DRIVER", &cfg.Database.Driver)
	set("CALBOT_DATABASE_DSN", &cfg.Database.DSN)
	set("CALBOT_MESSAGING_BACKEND", &cfg.Messaging.Backend)
	set("CALBOT_MATRIX_HOMESERVER_URL", &cfg.Messaging.Matrix.HomeserverURL)
	set("CALBOT_MATRIX_ACCESS_TOKEN", &cfg.Messaging.Matrix.AccessToken)
	set("CALBOT_TELEGRAM_TOKEN", &cfg.Messaging.Telegram.Token)
}
