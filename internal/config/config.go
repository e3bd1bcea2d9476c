// ABOUTME: Configuration loading and parsing for the opsdesk console engine
// ABOUTME: YAML with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete console engine configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Poll      PollConfig      `yaml:"poll"`
	Feed      FeedConfig      `yaml:"feed"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BackendConfig locates the messaging backend.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	WSURL   string `yaml:"ws_url"`
}

// WorkspaceConfig holds workspace persistence timing.
type WorkspaceConfig struct {
	SaveDebounce time.Duration `yaml:"-"`

	SaveDebounceRaw string `yaml:"save_debounce"`
}

// PollConfig holds reconciliation timing.
type PollConfig struct {
	Interval          time.Duration `yaml:"-"`
	IntegrityInterval time.Duration `yaml:"-"`
	GracePeriod       time.Duration `yaml:"-"`

	IntervalRaw          string `yaml:"interval"`
	IntegrityIntervalRaw string `yaml:"integrity_interval"`
	GracePeriodRaw       string `yaml:"grace_period"`
}

// FeedConfig holds push-channel reconnect and banner settings.
type FeedConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	BannerDismiss time.Duration `yaml:"-"`

	BannerDismissRaw string `yaml:"banner_dismiss"`
}

// CacheConfig holds the local snapshot mirror location.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults mirror the behavior the backend's own console ships with.
const (
	defaultSaveDebounce      = 1500 * time.Millisecond
	defaultPollInterval      = 8 * time.Second
	defaultIntegrityInterval = time.Minute
	defaultGracePeriod       = 30 * time.Second
	defaultBannerDismiss     = 10 * time.Second
	defaultFeedMaxRetries    = 5
)

// Load reads a configuration file from the given path. Environment
// variables in ${VAR_NAME} form are expanded before parsing, and duration
// strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if cfg.Feed.MaxRetries == 0 {
		cfg.Feed.MaxRetries = defaultFeedMaxRetries
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.WSURL == "" {
		return fmt.Errorf("backend.ws_url is required")
	}
	return nil
}

func (c *Config) parseDurations() error {
	entries := []struct {
		raw  string
		def  time.Duration
		dest *time.Duration
		name string
	}{
		{c.Workspace.SaveDebounceRaw, defaultSaveDebounce, &c.Workspace.SaveDebounce, "workspace.save_debounce"},
		{c.Poll.IntervalRaw, defaultPollInterval, &c.Poll.Interval, "poll.interval"},
		{c.Poll.IntegrityIntervalRaw, defaultIntegrityInterval, &c.Poll.IntegrityInterval, "poll.integrity_interval"},
		{c.Poll.GracePeriodRaw, defaultGracePeriod, &c.Poll.GracePeriod, "poll.grace_period"},
		{c.Feed.BannerDismissRaw, defaultBannerDismiss, &c.Feed.BannerDismiss, "feed.banner_dismiss"},
	}
	for _, e := range entries {
		if e.raw == "" {
			*e.dest = e.def
			continue
		}
		d, err := time.ParseDuration(e.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", e.name, err)
		}
		*e.dest = d
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		return os.Getenv(name)
	})
}
