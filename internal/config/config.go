// Package config handles TOML-based configuration loading and validation.
// TOML is parsed as data only; no code execution is possible.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"
)

// Config holds all application configuration.
type Config struct {
	BackendURL     string `toml:"backend_url"`
	MetadataURL    string `toml:"metadata_url"`
	MetadataAPIKey string `toml:"metadata_api_key"`
	SubsLanguage   string `toml:"subs_language"`
	Store          string `toml:"store"`
	MaxEntries     int    `toml:"max_entries"`
	SaveInterval   string `toml:"save_interval"`
	Debug          bool   `toml:"debug"`
	LogFile        string `toml:"log_file"`

	// Player holds the persisted player defaults that query parameters fall back to.
	Player PlayerConfiguration `toml:"player"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BackendURL:   "http://127.0.0.1:3000",
		MetadataURL:  "https://api.themoviedb.org/3",
		SubsLanguage: "en",
		Store:        "file",
		MaxEntries:   500,
		SaveInterval: "5s",
		Debug:        false,
		Player:       DefaultPlayer(),
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cinepro"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "cinepro"), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file and merges with defaults.
// If the config file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	cfg := Default()

	if key := os.Getenv("TMDB_API_KEY"); key != "" {
		cfg.MetadataAPIKey = key
	}

	if err := readFile(cfg); err != nil {
		return nil, err
	}

	// Persisted player defaults that no longer validate fall back to the
	// hard-coded ones instead of failing startup.
	cfg.Player = cfg.Player.Sanitize(DefaultPlayer())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// readFile merges the config file, if any, into cfg.
func readFile(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// SavePlayer replaces the persisted player defaults with pc. Everything else
// is written back exactly as the config file had it; environment values and
// one-off flag overrides are never persisted.
func SavePlayer(pc PlayerConfiguration) error {
	cfg := Default()
	if err := readFile(cfg); err != nil {
		return err
	}
	cfg.Player = pc
	return Save(cfg)
}

// Save writes the configuration back to the config file. It is used to
// persist player defaults.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := renameio.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url cannot be empty")
	}
	if c.MetadataURL == "" {
		return fmt.Errorf("metadata_url cannot be empty")
	}

	validStores := map[string]bool{"file": true, "sqlite": true}
	if !validStores[strings.ToLower(c.Store)] {
		return fmt.Errorf("unsupported store %q (valid: file, sqlite)", c.Store)
	}

	if c.MaxEntries < 0 {
		return fmt.Errorf("max_entries cannot be negative")
	}

	if _, err := c.SaveEvery(); err != nil {
		return err
	}

	if !validEngines[strings.ToLower(c.Player.Engine)] {
		return fmt.Errorf("unsupported player %q (valid: mpv, vlc)", c.Player.Engine)
	}

	return nil
}

// SaveEvery returns the parsed progress save interval.
func (c *Config) SaveEvery() (time.Duration, error) {
	d, err := time.ParseDuration(c.SaveInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid save_interval %q: %w", c.SaveInterval, err)
	}
	if d < time.Second {
		return 0, fmt.Errorf("save_interval %s is below one second", d)
	}
	return d, nil
}

// DataDir returns the directory holding the progress store.
func DataDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "cinepro"), nil
}
