// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Fetch engines.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
	EngineHTTP     = "http"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Queue     QueueConfig     `mapstructure:"queue"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// ScrapeConfig holds intake defaults and limits.
type ScrapeConfig struct {
	DefaultTimeoutMs int `mapstructure:"default_timeout_ms"`
	MaxTimeoutMs     int `mapstructure:"max_timeout_ms"`
	MaxBatchSize     int `mapstructure:"max_batch_size"`
}

// SchedulerConfig bounds the per-item start jitter.
type SchedulerConfig struct {
	MinDelaySeconds int `mapstructure:"min_delay_seconds"`
	MaxDelaySeconds int `mapstructure:"max_delay_seconds"`
}

// WorkerConfig sizes the fetch workflow pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// FetcherConfig configures the page fetch engines.
type FetcherConfig struct {
	Engine         string `mapstructure:"engine"`
	StealthEnabled bool   `mapstructure:"stealth_enabled"`
	UserAgent      string `mapstructure:"user_agent"`
	Headless       bool   `mapstructure:"headless"`
	NoSandbox      bool   `mapstructure:"no_sandbox"`
	BrowserBin     string `mapstructure:"browser_bin"`
	ProfileDir     string `mapstructure:"profile_dir"`
	// ProfileTemplate seeds ProfileDir (and its stealth sibling) at startup.
	ProfileTemplate     string `mapstructure:"profile_template"`
	ResetProfileOnStart bool   `mapstructure:"reset_profile_on_start"`
	MaxParallel         int    `mapstructure:"max_parallel"`
}

// StoreConfig selects the result store backend.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SNEAKY")
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("scrape.default_timeout_ms", 10000)
	v.SetDefault("scrape.max_timeout_ms", 120000)
	v.SetDefault("scrape.max_batch_size", 100)
	v.SetDefault("scheduler.min_delay_seconds", 0)
	v.SetDefault("scheduler.max_delay_seconds", 4)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("fetcher.engine", EngineChromedp)
	v.SetDefault("fetcher.stealth_enabled", false)
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.headless", true)
	v.SetDefault("fetcher.no_sandbox", false)
	v.SetDefault("fetcher.reset_profile_on_start", true)
	v.SetDefault("fetcher.max_parallel", 2)
	v.SetDefault("store.backend", StoreSQLite)
	v.SetDefault("store.sqlite_path", "scrape_results.db")
	v.SetDefault("db.table", "scrape_results")
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("queue.backend", QueueMemory)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_key", "sneaky:queue")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("scrape.default_timeout_ms must be > 0")
	}
	if c.Scrape.MaxTimeoutMs < c.Scrape.DefaultTimeoutMs {
		return fmt.Errorf("scrape.max_timeout_ms must be >= scrape.default_timeout_ms")
	}
	if c.Scheduler.MinDelaySeconds < 0 || c.Scheduler.MaxDelaySeconds < c.Scheduler.MinDelaySeconds {
		return fmt.Errorf("scheduler delay range [%d, %d] is invalid",
			c.Scheduler.MinDelaySeconds, c.Scheduler.MaxDelaySeconds)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth < 0 {
		return fmt.Errorf("worker.queue_depth must be >= 0")
	}
	switch c.Fetcher.Engine {
	case EngineChromedp, EngineRod, EngineHTTP:
	default:
		return fmt.Errorf("fetcher.engine %q is not supported", c.Fetcher.Engine)
	}
	if c.Fetcher.ProfileTemplate != "" && c.Fetcher.ProfileDir == "" {
		return fmt.Errorf("fetcher.profile_dir must be set when fetcher.profile_template is")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite backend")
		}
	case StorePostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	switch c.Queue.Backend {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend)
	}
	return nil
}

// DefaultTimeout returns the intake default fetch timeout.
func (c Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Scrape.DefaultTimeoutMs) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
