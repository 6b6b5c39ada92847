package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI configuration read from ~/.atendo/config.yaml.
type Config struct {
	ServerURL   string        `yaml:"server_url"`
	AuthMode    string        `yaml:"auth_mode"`
	LoginPath   string        `yaml:"login_path"`
	RefreshPath string        `yaml:"refresh_path"`
	Timeout     time.Duration `yaml:"timeout"`
	Email       string        `yaml:"email,omitempty"`

	Cache    bool   `yaml:"cache"`
	CacheDir string `yaml:"cache_dir,omitempty"`

	PublicRoutes []string `yaml:"public_routes,omitempty"`

	RefreshSkew time.Duration `yaml:"refresh_skew,omitempty"`
	Telemetry   bool          `yaml:"telemetry"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		ServerURL:   "http://localhost:8000",
		AuthMode:    "json",
		LoginPath:   "/auth/login",
		RefreshPath: "/auth/refresh",
		Timeout:     30 * time.Second,
		Cache:       true,
		RefreshSkew: 5 * time.Minute,
	}
}

// Dir returns the configuration and state directory, ~/.atendo.
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".atendo"), nil
}

// DefaultPath returns ~/.atendo/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads path over the defaults. A missing file yields the defaults.
// An empty path reads DefaultPath.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return cfg, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the values the session stack cannot work without.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	switch c.AuthMode {
	case "json", "password_grant":
	default:
		return fmt.Errorf("auth_mode must be json or password_grant, got %q", c.AuthMode)
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

// Save writes the configuration atomically with owner-only permissions.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}
