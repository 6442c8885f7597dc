package common

import (
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/rs/zerolog/log"
	yaml "gopkg.in/yaml.v3"
)

// Config is drivefs's on-disk configuration. It collects every option named
// in the "Configuration contract". A handful of these are
// consumed entirely outside the core (AuthorizeUsingCode, ClientSecret) -
// they live here anyway since this is where a real config file would define
// them. cmd/drivefs does not read them; the session layer takes its client
// credentials from the persisted session file instead.
type Config struct {
	CacheDir string `yaml:"cacheDir"`
	LogLevel string `yaml:"log"`

	MountCheck bool `yaml:"mountCheck"`

	CacheMaxSeconds    int `yaml:"cacheMaxSeconds"`
	CacheMaxItems      int `yaml:"cacheMaxItems"`
	CacheStatfsSeconds int `yaml:"cacheStatfsSeconds"`

	SyncIntervalSeconds int      `yaml:"syncInterval"`
	MountOptions        []string `yaml:"mountOptions"`

	AuthorizeUsingCode     bool   `yaml:"authorizeUsingCode"`
	RenameIdenticalFiles   bool   `yaml:"renameIdenticalFiles"`
	AddExtensionsToSpecial bool   `yaml:"addExtensionsToSpecialFiles"`
	SkipTrash              bool   `yaml:"skipTrash"`
	ClientSecret           string `yaml:"clientSecret"`
}

// CacheMaxAge returns CacheMaxSeconds as a time.Duration.
func (c Config) CacheMaxAge() time.Duration {
	return time.Duration(c.CacheMaxSeconds) * time.Second
}

// StatfsMaxAge returns CacheStatfsSeconds as a time.Duration.
func (c Config) StatfsMaxAge() time.Duration {
	return time.Duration(c.CacheStatfsSeconds) * time.Second
}

// SyncInterval returns SyncIntervalSeconds as a time.Duration.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// DefaultConfigPath returns the default config location for drivefs.
func DefaultConfigPath() string {
	confDir, err := os.UserConfigDir()
	if err != nil {
		log.Error().Err(err).Msg("Could not determine configuration directory.")
	}
	return filepath.Join(confDir, "drivefs/config.yml")
}

func defaultConfig() Config {
	xdgCacheDir, _ := os.UserCacheDir()
	return Config{
		CacheDir:            filepath.Join(xdgCacheDir, "drivefs"),
		LogLevel:            "info",
		MountCheck:          true,
		CacheMaxSeconds:     60 * 60 * 24 * 7, // one week
		CacheMaxItems:       2000,
		CacheStatfsSeconds:  60,
		SyncIntervalSeconds: 30,
	}
}

// LoadConfig is the primary way of loading drivefs's config. A missing or
// unparsable file is not fatal - defaults are used.
func LoadConfig(path string) *Config {
	defaults := defaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).
			Msg("Configuration file not found, using defaults.")
		return &defaults
	}

	config := &Config{}
	if err = yaml.Unmarshal(raw, config); err != nil {
		log.Error().Err(err).Str("path", path).
			Msg("Could not parse configuration file, using defaults.")
	}
	if err = mergo.Merge(config, defaults); err != nil {
		log.Error().Err(err).Str("path", path).
			Msg("Could not merge configuration file with defaults, using defaults only.")
	}
	return config
}

// WriteConfig writes the config back out to path, creating parent
// directories as needed.
func (c Config) WriteConfig(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		log.Error().Err(err).Msg("Could not marshal config!")
		return err
	}
	os.MkdirAll(filepath.Dir(path), 0700)
	if err = os.WriteFile(path, out, 0600); err != nil {
		log.Error().Err(err).Msg("Could not write config to disk.")
	}
	return err
}
