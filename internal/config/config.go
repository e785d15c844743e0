// Package config implements the global, cross-repo client configuration:
// the active profile, per-profile remote base URLs, and the log/history
// retention limit, persisted as TOML at
// "$XDG_CONFIG_HOME/milieu/config.toml" (or "$HOME/.config/milieu/config.toml").
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/milieu-dev/milieu/internal/errs"
)

// DefaultBaseURL is used for the "default" profile on first run and as the
// final fallback when a profile is unknown and MILIEU_BASE_URL is unset.
const DefaultBaseURL = "https://milieu.sh"

// DefaultHistoryLimit bounds how many object-history rows commands like
// `milieu log` render by default.
const DefaultHistoryLimit = 12

// FileName is the config file's name inside its directory.
const FileName = "config.toml"

// Profile is one named remote target.
type Profile struct {
	BaseURL string `toml:"base_url"`
}

// Config is the full global configuration.
type Config struct {
	ActiveProfile string             `toml:"active_profile"`
	Profiles      map[string]Profile `toml:"profiles"`
	HistoryLimit  uint32             `toml:"history_limit"`
}

// Default returns a fresh single-profile configuration.
func Default() *Config {
	return &Config{
		ActiveProfile: "default",
		Profiles:      map[string]Profile{"default": {BaseURL: DefaultBaseURL}},
		HistoryLimit:  DefaultHistoryLimit,
	}
}

// Dir resolves the config directory, preferring XDG_CONFIG_HOME over
// "$HOME/.config".
func Dir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "milieu"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", errs.ErrConfigMissing
	}
	return filepath.Join(home, ".config", "milieu"), nil
}

// Path resolves the config file's full path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config file, creating a default one on first run and
// backfilling a missing "default" profile or active-profile entry.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg := Default()
		if err := cfg.Save(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}

	dirty := false
	if len(cfg.Profiles) == 0 {
		cfg.Profiles["default"] = Profile{BaseURL: DefaultBaseURL}
		dirty = true
	} else if _, ok := cfg.Profiles[cfg.ActiveProfile]; !ok {
		cfg.Profiles[cfg.ActiveProfile] = Profile{BaseURL: DefaultBaseURL}
		dirty = true
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if dirty {
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Save serializes cfg as TOML, creating parent directories as needed.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// BaseURLFor resolves the remote base URL for profile: the profile's
// configured URL if known, else the active profile's if profile is empty,
// else MILIEU_BASE_URL, else DefaultBaseURL.
func (c *Config) BaseURLFor(profile string) string {
	name := profile
	if name == "" {
		name = c.ActiveProfile
	}
	if entry, ok := c.Profiles[name]; ok {
		return entry.BaseURL
	}
	if value := strings.TrimSpace(os.Getenv("MILIEU_BASE_URL")); value != "" {
		return value
	}
	return DefaultBaseURL
}

// SetBaseURL records profile's base URL, creating the profile if needed.
func (c *Config) SetBaseURL(profile, baseURL string) {
	if c.Profiles == nil {
		c.Profiles = map[string]Profile{}
	}
	c.Profiles[profile] = Profile{BaseURL: baseURL}
}
