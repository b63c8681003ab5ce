package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Backend names accepted for STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds the daemon configuration. Values come from an optional TOML
// file layered under environment variables; the environment always wins.
type Config struct {
	Addr           string   `env:"ADDR" toml:"addr"`
	PublicURL      string   `env:"PUBLIC_URL" toml:"public_url"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," toml:"allowed_origins"`
	DataDir        string   `env:"DATA_DIR" toml:"data_dir"`
	SessionName    string   `env:"SESSION_NAME" toml:"session_name"`

	StoreBackend  string `env:"STORE_BACKEND" toml:"store_backend"`
	DatabaseURL   string `env:"DATABASE_URL" toml:"database_url"`
	RedisAddr     string `env:"REDIS_ADDR" toml:"redis_addr"`
	RedisPassword string `env:"REDIS_PASSWORD" toml:"redis_password"`
}

func defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Addr:           ":3000",
		PublicURL:      "http://localhost:3000",
		AllowedOrigins: []string{"http://localhost:5173"},
		DataDir:        filepath.Join(home, ".wabridge"),
		SessionName:    "default",
		StoreBackend:   BackendMemory,
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if
// any), then environment variables. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store backend %q requires DATABASE_URL", c.StoreBackend)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("store backend %q requires REDIS_ADDR", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	return nil
}

// SessionDir returns the per-session state directory.
func (c *Config) SessionDir() string {
	return filepath.Join(c.DataDir, "sessions", c.SessionName)
}

// SessionDBPath returns the whatsmeow credential database path.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.SessionDir(), "session.db")
}

// MediaDir returns the directory media objects are stored under.
func (c *Config) MediaDir() string {
	return filepath.Join(c.DataDir, "media")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "wabridged.log")
}

// EnsureDirs creates the data directory tree with owner-only permissions.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.SessionDir(),
		c.MediaDir(),
		filepath.Dir(c.LogPath()),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
