package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level daemon configuration. Settings a user changes
// at runtime (location, calculation method, grace period, lock flag)
// are seeded from here on first run but live in the state store
// afterwards; the config file only provides their initial values.
type Config struct {
	// Listen is the HTTP listen address for the API and the surface
	// WebSocket endpoint.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone all wall-clock times are
	// interpreted in (e.g. "Europe/London"). Empty means local time.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DataDir is the base directory for the persisted state store.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// APIBaseURL overrides the upstream AlAdhan endpoint. Empty uses
	// the public API.
	APIBaseURL string `yaml:"api_base_url" json:"api_base_url"`

	// RefreshCron is a cron-style schedule for periodic re-fetch of
	// the day's times, in addition to the fixed midnight reset.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Location is the initial "City, Country" descriptor. May be empty
	// until the user sets one.
	Location string `yaml:"location" json:"location"`

	// Method is the initial calculation method (AlAdhan numbering;
	// 2 = ISNA).
	Method int `yaml:"method" json:"method"`

	// GraceMinutes is the initial grace period between an event firing
	// and escalation.
	GraceMinutes int `yaml:"grace_minutes" json:"grace_minutes"`

	// LockEnabled is the initial enforcement flag. When false, events
	// only produce notifications.
	LockEnabled bool `yaml:"lock_enabled" json:"lock_enabled"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8742",
		Timezone:     "",
		DataDir:      "/var/lib/prayerd",
		RefreshCron:  "0 */6 * * *",
		Method:       2,
		GraceMinutes: 15,
		LockEnabled:  true,
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8742"
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/prayerd"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "0 */6 * * *"
	}
	if c.Method <= 0 {
		c.Method = 2
	}
	if c.GraceMinutes <= 0 {
		c.GraceMinutes = 15
	}
}

// Load loads configuration from the given YAML path. If the file does
// not exist, a default config is written there (0600) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".prayerd-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
