// Package config loads and validates linksentry configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// CrawlConfig governs the crawl engine.
type CrawlConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	MaxPages            int    `mapstructure:"max_pages"`
	ProgressFlushPages  int    `mapstructure:"progress_flush_pages"`
}

// QueueConfig governs worker polling and lease recovery.
type QueueConfig struct {
	Workers            int `mapstructure:"workers"`
	PollIntervalMs     int `mapstructure:"poll_interval_ms"`
	LeaseSeconds       int `mapstructure:"lease_seconds"`
	MaxAttempts        int `mapstructure:"max_attempts"`
	ReaperIntervalSecs int `mapstructure:"reaper_interval_seconds"`
}

// SchedulerConfig governs the automatic scan control loop.
type SchedulerConfig struct {
	TickIntervalSecs int `mapstructure:"tick_interval_seconds"`
	CooldownSecs     int `mapstructure:"cooldown_seconds"`
	MaxSitesPerTick  int `mapstructure:"max_sites_per_tick"`
}

// PubSubConfig holds metadata for terminal-run notifications. Leave TopicName
// empty to disable publishing.
type PubSubConfig struct {
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
	v.SetEnvPrefix("LINKSENTRY")
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
	v.SetDefault("crawl.user_agent", "linksentry-bot/0.1")
	v.SetDefault("crawl.fetch_timeout_seconds", 15)
	v.SetDefault("crawl.max_pages", 100)
	v.SetDefault("crawl.progress_flush_pages", 5)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.poll_interval_ms", 1000)
	v.SetDefault("queue.lease_seconds", 300)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.reaper_interval_seconds", 60)
	v.SetDefault("scheduler.tick_interval_seconds", 30)
	v.SetDefault("scheduler.cooldown_seconds", 60)
	v.SetDefault("scheduler.max_sites_per_tick", 20)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("crawl.fetch_timeout_seconds must be > 0")
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	if c.Queue.LeaseSeconds <= 0 {
		return fmt.Errorf("queue.lease_seconds must be > 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be > 0")
	}
	if c.Scheduler.TickIntervalSecs <= 0 {
		return fmt.Errorf("scheduler.tick_interval_seconds must be > 0")
	}
	if c.Scheduler.CooldownSecs < 0 {
		return fmt.Errorf("scheduler.cooldown_seconds must be >= 0")
	}
	return nil
}

// FetchTimeout converts the fetch timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawl.FetchTimeoutSeconds) * time.Second
}

// PollInterval converts the worker idle wait to a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalMs) * time.Millisecond
}

// Lease converts the claim lease to a duration.
func (c Config) Lease() time.Duration {
	return time.Duration(c.Queue.LeaseSeconds) * time.Second
}

// ReaperInterval converts the reaper tick to a duration.
func (c Config) ReaperInterval() time.Duration {
	return time.Duration(c.Queue.ReaperIntervalSecs) * time.Second
}

// TickInterval converts the scheduler tick to a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalSecs) * time.Second
}

// Cooldown converts the scheduler double-enqueue guard window to a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Scheduler.CooldownSecs) * time.Second
}
