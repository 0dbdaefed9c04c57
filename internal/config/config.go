// Package config handles configuration loading for newsignals.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"  yaml:"source"`
	Fetch   FetchConfig   `mapstructure:"fetch"   yaml:"fetch"`
	Run     RunConfig     `mapstructure:"run"     yaml:"run"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// SourceConfig selects and configures the news backend.
type SourceConfig struct {
	// Name selects the backend: "newsapi" (entity-id matching) or
	// "rss" (name-based search).
	Name    string        `mapstructure:"name"    yaml:"name"`
	NewsAPI NewsAPIConfig `mapstructure:"newsapi" yaml:"newsapi"`
	RSS     RSSConfig     `mapstructure:"rss"     yaml:"rss"`
}

// NewsAPIConfig holds credentials and endpoint for the news API backend.
type NewsAPIConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	AppID   string `mapstructure:"app_id"   yaml:"app_id"`
	APIKey  string `mapstructure:"api_key"  yaml:"api_key"`
}

// RSSConfig holds settings for the RSS search backend.
type RSSConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Language string `mapstructure:"language" yaml:"language"`
}

// FetchConfig holds the shared rate budget and per-request retry policy.
type FetchConfig struct {
	// RatePerSecond and Burst configure the process-wide token bucket
	// shared by all concurrent fetches.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `mapstructure:"burst"           yaml:"burst"`
	MaxRetries    int     `mapstructure:"max_retries"     yaml:"max_retries"`
	RetryBaseMs   int     `mapstructure:"retry_base_ms"   yaml:"retry_base_ms"`
	TimeoutSec    int     `mapstructure:"timeout_sec"     yaml:"timeout_sec"`
}

// RunConfig holds aggregation run settings.
type RunConfig struct {
	Concurrency      int `mapstructure:"concurrency"        yaml:"concurrency"`
	DeadlineSec      int `mapstructure:"deadline_sec"       yaml:"deadline_sec"`
	StoriesPerBucket int `mapstructure:"stories_per_bucket" yaml:"stories_per_bucket"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.newsignals/config.yaml (home directory)
//  3. /etc/newsignals/config.yaml (system)
//
// Environment variables override config file values.
// Format: NEWSIGNALS_<SECTION>_<KEY>, e.g., NEWSIGNALS_SOURCE_NEWSAPI_API_KEY
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".newsignals"))
	v.AddConfigPath("/etc/newsignals")

	v.SetEnvPrefix("NEWSIGNALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("NEWSIGNALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.name", "newsapi")
	v.SetDefault("source.newsapi.base_url", "https://api.aylien.com/news")
	v.SetDefault("source.rss.base_url", "https://news.google.com/rss/search")
	v.SetDefault("source.rss.language", "en")

	// Fetch defaults (conservative: stay under typical API quotas)
	v.SetDefault("fetch.rate_per_second", 5.0)
	v.SetDefault("fetch.burst", 5)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.retry_base_ms", 500)
	v.SetDefault("fetch.timeout_sec", 30)

	// Run defaults
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("run.deadline_sec", 0) // 0 = no deadline
	v.SetDefault("run.stories_per_bucket", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if id := os.Getenv("NEWSIGNALS_SOURCE_NEWSAPI_APP_ID"); id != "" {
		cfg.Source.NewsAPI.AppID = id
	}
	if key := os.Getenv("NEWSIGNALS_SOURCE_NEWSAPI_API_KEY"); key != "" {
		cfg.Source.NewsAPI.APIKey = key
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
