// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/changhorizon/content-collector/internal/collector"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig            `mapstructure:"server"`
	Site    collector.SiteParams    `mapstructure:"site"`
	Confine collector.ConfineParams `mapstructure:"confine"`
	Client  collector.ClientParams  `mapstructure:"client"`
	Redis   collector.RedisParams   `mapstructure:"redis"`
	Queues  collector.QueueNames    `mapstructure:"queues"`
	Workers WorkersConfig           `mapstructure:"workers"`
	Storage StorageConfig           `mapstructure:"storage"`
	DB      DBConfig                `mapstructure:"db"`
	PubSub  PubSubConfig            `mapstructure:"pubsub"`
	Logging LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// WorkersConfig governs pipeline worker pools and retry behavior.
type WorkersConfig struct {
	CrawlConcurrency  int `mapstructure:"crawl_concurrency"`
	ParseConcurrency  int `mapstructure:"parse_concurrency"`
	MediaConcurrency  int `mapstructure:"media_concurrency"`
	MaxAttempts       int `mapstructure:"max_attempts"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
	RetryDelayMs      int `mapstructure:"retry_delay_ms"`
	QueueDepth        int `mapstructure:"queue_depth"`
}

// StorageConfig sets paths for media persistence.
type StorageConfig struct {
	MediaRoot string `mapstructure:"media_root"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for task completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
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
	v.SetDefault("site.priority", "black")
	v.SetDefault("confine.max_urls", 1000)
	v.SetDefault("confine.delay_ms", 200)
	v.SetDefault("confine.jitter_ms", 100)
	v.SetDefault("client.timeout_seconds", 15)
	v.SetDefault("client.user_agents", []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	})
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host_key_prefix", "collector:lock:")
	v.SetDefault("redis.task_count_prefix", "collector:count:")
	v.SetDefault("redis.max_concurrent_per_host", 3)
	v.SetDefault("redis.slot_ttl_seconds", 15)
	v.SetDefault("queues.crawl", "crawl")
	v.SetDefault("queues.parse", "parse")
	v.SetDefault("queues.media", "media")
	v.SetDefault("workers.crawl_concurrency", 4)
	v.SetDefault("workers.parse_concurrency", 2)
	v.SetDefault("workers.media_concurrency", 2)
	v.SetDefault("workers.max_attempts", 3)
	v.SetDefault("workers.job_timeout_seconds", 30)
	v.SetDefault("workers.retry_delay_ms", 2000)
	v.SetDefault("workers.queue_depth", 256)
	v.SetDefault("storage.media_root", "media")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "task-events")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Site.Entry != "" {
		if _, err := collector.NormalizeURL(c.Site.Entry); err != nil {
			return fmt.Errorf("site.entry is not a usable URL: %w", err)
		}
	}
	if c.Site.Priority != "black" && c.Site.Priority != "white" {
		return fmt.Errorf("site.priority must be \"black\" or \"white\", got %q", c.Site.Priority)
	}
	if c.Confine.MaxURLs < 0 {
		return fmt.Errorf("confine.max_urls must be >= 0")
	}
	if c.Client.TimeoutSeconds <= 0 {
		return fmt.Errorf("client.timeout_seconds must be > 0")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when redis is enabled")
	}
	if c.Redis.MaxConcurrentPerHost <= 0 {
		return fmt.Errorf("redis.max_concurrent_per_host must be > 0")
	}
	if c.Queues.Crawl == "" || c.Queues.Parse == "" || c.Queues.Media == "" {
		return fmt.Errorf("queue names must not be empty")
	}
	if c.Workers.MaxAttempts <= 0 {
		return fmt.Errorf("workers.max_attempts must be > 0")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	return nil
}

// ToParams assembles the per-host parameter bundle threaded through every
// job context.
func (c Config) ToParams() collector.Params {
	return collector.Params{
		Site:    c.Site,
		Confine: c.Confine,
		Client:  c.Client,
		Redis:   c.Redis,
		Queues:  c.Queues,
	}
}
