package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8099" || cfg.Database.Driver != "sqlite3" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if got := cfg.Sync.WindowFuture(); got != 30*24*time.Hour {
		t.Fatalf("WindowFuture: got %v", got)
	}
	if got := cfg.Reminders.MaxSleep(); got != 5*time.Minute {
		t.Fatalf("MaxSleep: got %v", got)
	}
}

func TestLoadPartialFileIsNormalized(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
listen: ":9000"
database:
  driver: postgres
  dsn: postgres://bot@localhost/bot?sslmode=disable
messaging:
  backend: matrix
  matrix:
    homeserver_url: https://matrix.example.com/
    access_token: tok
sync:
  window_future_days: 14
`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9000" {
		t.Fatalf("Listen: got %q", cfg.Listen)
	}
	if cfg.Sync.WindowFutureDays != 14 || cfg.Sync.WindowPastDays != 7 || cfg.Sync.LookbackDays != 180 {
		t.Fatalf("sync not normalized: %+v", cfg.Sync)
	}
	if cfg.Messaging.Matrix.HomeserverURL != "https://matrix.example.com" {
		t.Fatalf("homeserver trailing slash kept: %q", cfg.Messaging.Matrix.HomeserverURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "listen: \":9000\"\n")
	envFile := writeFile(t, dir, ".env", "CALBOT_MATRIX_HOMESERVER_URL=https://hs.example.org\n")
	t.Cleanup(func() { os.Unsetenv("CALBOT_MATRIX_HOMESERVER_URL") })
	t.Setenv("CALBOT_LISTEN", ":7000")
	t.Setenv("CALBOT_MATRIX_ACCESS_TOKEN", "from-env")

	cfg, err := Load(path, envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Fatalf("Listen: got %q, want %q", cfg.Listen, ":7000")
	}
	if cfg.Messaging.Matrix.AccessToken != "from-env" {
		t.Fatalf("AccessToken: got %q", cfg.Messaging.Matrix.AccessToken)
	}
	if cfg.Messaging.Matrix.HomeserverURL != "https://hs.example.org" {
		t.Fatalf("HomeserverURL from .env: got %q", cfg.Messaging.Matrix.HomeserverURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"matrix ok", func(c *Config) {
			c.Messaging.Matrix = MatrixConfig{HomeserverURL: "https://hs", AccessToken: "t"}
		}, false},
		{"matrix missing token", func(c *Config) {
			c.Messaging.Matrix = MatrixConfig{HomeserverURL: "https://hs"}
		}, true},
		{"telegram ok", func(c *Config) {
			c.Messaging.Backend = "telegram"
			c.Messaging.Telegram.Token = "123:abc"
		}, false},
		{"unknown backend", func(c *Config) { c.Messaging.Backend = "irc" }, true},
		{"unknown driver", func(c *Config) {
			c.Messaging.Matrix = MatrixConfig{HomeserverURL: "https://hs", AccessToken: "t"}
			c.Database.Driver = "mysql"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate: got err %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
