// Package config loads and validates the static ambler configuration.
// The YAML file carries defaults only; anything the operator can change at
// runtime lives in the persisted settings document and is merely seeded from
// here on first install.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ambler/internal/types"
)

// Config holds all ambler configuration.
type Config struct {
	// Timezone is the IANA zone used for daily planning and resets.
	Timezone string `yaml:"timezone"`

	// DataDir is where the sqlite store and logs live.
	DataDir string `yaml:"data_dir"`

	Browser  BrowserConfig   `yaml:"browser"`
	Autopost AutopostConfig  `yaml:"autopost"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	Behavior BehaviorProfile `yaml:"behavior"`
	Media    MediaConfig     `yaml:"media"`
	API      APIConfig       `yaml:"api"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// MediaConfig locates the attachment library.
type MediaConfig struct {
	Dir          string `yaml:"dir"`
	AutoAttach   bool   `yaml:"auto_attach"`
	AttachChance int    `yaml:"attach_chance"` // percent 0-100
}

// APIConfig configures the policy backend client.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// RequestTimeout parses APIConfig.Timeout, defaulting to 30s.
func (a APIConfig) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(a.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"` // empty = stderr only
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Timezone: "UTC",
		DataDir:  filepath.Join(home, ".ambler"),
		Browser:  defaultBrowser(),
		Autopost: defaultAutopost(),
		Schedule: defaultSchedule(),
		Behavior: DefaultBehavior(),
		Media: MediaConfig{
			Dir:          filepath.Join(home, ".ambler", "media"),
			AttachChance: 20,
		},
		API: APIConfig{
			BaseURL: "https://api.ambler.dev/v1",
			Timeout: "30s",
		},
		Logging: LoggingConfig{JSON: true},
	}
}

// Load reads the config file at path, merged over defaults. A missing file is
// not an error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if err := c.Behavior.Validate(); err != nil {
		return err
	}
	if err := c.Schedule.Validate(); err != nil {
		return err
	}
	if err := c.Autopost.Validate(); err != nil {
		return err
	}
	if c.Media.AttachChance < 0 || c.Media.AttachChance > 100 {
		return fmt.Errorf("media attach_chance must be 0-100, got %d", c.Media.AttachChance)
	}
	return nil
}

// Location resolves the configured timezone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SeedSettings builds the first-install settings document from the static
// config.
func (c Config) SeedSettings() types.Settings {
	return types.Settings{
		Timezone:          c.Timezone,
		AutopostEnabled:   true,
		ActivityEnabled:   true,
		MediaAutoAttach:   c.Media.AutoAttach,
		MediaAttachChance: c.Media.AttachChance,
		MoodWeights:       types.MoodWeights{Low: 30, Normal: 45, High: 25},
		OffDayProbability: 0.06,
	}
}
