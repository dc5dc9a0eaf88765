// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the crawl session.
type CrawlerConfig struct {
	BaseURL               string  `mapstructure:"base_url"`
	Workers               int     `mapstructure:"workers"`
	MaxDepth              int     `mapstructure:"max_depth"`
	MaxRetries            int     `mapstructure:"max_retries"`
	MaxURLs               int     `mapstructure:"max_urls"`
	UserAgent             string  `mapstructure:"user_agent"`
	RequestsPerSecond     float64 `mapstructure:"requests_per_second"`
	RespectRobots         bool    `mapstructure:"respect_robots"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	CheckpointPath        string  `mapstructure:"checkpoint_path"`
	CheckpointIntervalSec int     `mapstructure:"checkpoint_interval_seconds"`
	PollIntervalSec       int     `mapstructure:"poll_interval_seconds"`
	StopTimeoutSec        int     `mapstructure:"stop_timeout_seconds"`
}

// DiscoveryConfig controls the structure-discovery sampling crawl.
type DiscoveryConfig struct {
	Dir            string `mapstructure:"dir"`
	MaxSamplePages int    `mapstructure:"max_sample_pages"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects and configures the content store.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SMARTCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.max_depth", 5)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.max_urls", 10000)
	v.SetDefault("crawler.user_agent", "smartcrawl-bot/0.1")
	v.SetDefault("crawler.requests_per_second", 1.0)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.checkpoint_path", "crawler_state.json")
	v.SetDefault("crawler.checkpoint_interval_seconds", 300)
	v.SetDefault("crawler.poll_interval_seconds", 5)
	v.SetDefault("crawler.stop_timeout_seconds", 10)
	v.SetDefault("discovery.dir", "patterns")
	v.SetDefault("discovery.max_sample_pages", 50)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.table", "contents")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is required")
	}
	if parsed, err := url.Parse(c.Crawler.BaseURL); err != nil || parsed.Host == "" {
		return fmt.Errorf("crawler.base_url %q is not a valid absolute URL", c.Crawler.BaseURL)
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set when storage.backend is postgres")
		}
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// FetchTimeout returns the per-request fetch budget.
func (c CrawlerConfig) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CheckpointInterval returns how often workers persist a checkpoint.
func (c CrawlerConfig) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSec) * time.Second
}

// PollInterval returns the queue poll bound for idle workers.
func (c CrawlerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// StopTimeout returns the bounded join budget for Stop.
func (c CrawlerConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSec) * time.Second
}

// NavTimeout returns the headless navigation budget.
func (c HeadlessConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}
