// Package config loads service configuration with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Log      LogConfig
	Engine   EngineConfig
	Janitor  JanitorConfig
	HTTP     HTTPConfig
	Security SecurityConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds the SQLite location. ":memory:" keeps everything in
// process.
type DatabaseConfig struct {
	Path string
}

// RedisConfig holds the level cache settings. When disabled the engine
// uses a process-local cache.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LevelTTL time.Duration
}

// KafkaConfig holds the event sink settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	BatchSize    int
	MaxRetries   int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// EngineConfig tunes the inventory engine.
type EngineConfig struct {
	LockTimeout     time.Duration
	HistoryPageSize int
}

// JanitorConfig controls cancellation of orders stuck in RESERVED.
type JanitorConfig struct {
	Enabled        bool
	Interval       time.Duration
	ReservationTTL time.Duration
	Actor          string
	BatchSize      int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

// SecurityConfig holds static capability grants. An empty list allows
// every actor everything.
type SecurityConfig struct {
	Grants []GrantConfig
}

type GrantConfig struct {
	Actor        string   `mapstructure:"actor"`
	Capabilities []string `mapstructure:"capabilities"`
	Warehouses   []string `mapstructure:"warehouses"`
}

// DefaultSearchPaths are consulted when Load gets no paths.
var DefaultSearchPaths = []string{".", "/etc/inventory-engine"}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with INV_ prefix (e.g., INV_DATABASE_PATH)
// 2. config.toml
// 3. Built-in defaults
func Load(paths ...string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if len(paths) == 0 {
		paths = DefaultSearchPaths
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("INV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LevelTTL: v.GetDuration("redis.level_ttl"),
		},
		Kafka: KafkaConfig{
			Enabled:      v.GetBool("kafka.enabled"),
			Brokers:      v.GetStringSlice("kafka.brokers"),
			Topic:        v.GetString("kafka.topic"),
			BatchTimeout: v.GetDuration("kafka.batch_timeout"),
			BatchSize:    v.GetInt("kafka.batch_size"),
			MaxRetries:   v.GetInt("kafka.max_retries"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Engine: EngineConfig{
			LockTimeout:     v.GetDuration("engine.lock_timeout"),
			HistoryPageSize: v.GetInt("engine.history_page_size"),
		},
		Janitor: JanitorConfig{
			Enabled:        v.GetBool("janitor.enabled"),
			Interval:       v.GetDuration("janitor.interval"),
			ReservationTTL: v.GetDuration("janitor.reservation_ttl"),
			Actor:          v.GetString("janitor.actor"),
			BatchSize:      v.GetInt("janitor.batch_size"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
	}

	if err := v.UnmarshalKey("security.grants", &cfg.Security.Grants); err != nil {
		return nil, fmt.Errorf("error reading security grants: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "inventory-engine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./inventory.db"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.LevelTTL == 0 {
		cfg.Redis.LevelTTL = 10 * time.Minute
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "inventory.events"
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.Kafka.BatchSize == 0 {
		cfg.Kafka.BatchSize = 100
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Engine.LockTimeout == 0 {
		cfg.Engine.LockTimeout = 2 * time.Second
	}
	if cfg.Engine.HistoryPageSize == 0 {
		cfg.Engine.HistoryPageSize = 256
	}
	if cfg.Janitor.Interval == 0 {
		cfg.Janitor.Interval = time.Minute
	}
	if cfg.Janitor.ReservationTTL == 0 {
		cfg.Janitor.ReservationTTL = 24 * time.Hour
	}
	if cfg.Janitor.Actor == "" {
		cfg.Janitor.Actor = "system:janitor"
	}
	if cfg.Janitor.BatchSize == 0 {
		cfg.Janitor.BatchSize = 100
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 {
		cfg.HTTP.CORSAllowOrigins = []string{"*"}
	}
}

var validCapabilities = map[string]bool{
	"receive_stock":    true,
	"ship_stock":       true,
	"adjust_inventory": true,
	"manage_transfers": true,
	"manage_orders":    true,
}

func (c *Config) validate() error {
	if c.Engine.LockTimeout < 0 {
		return fmt.Errorf("engine.lock_timeout must not be negative")
	}
	if c.Engine.HistoryPageSize < 1 {
		return fmt.Errorf("engine.history_page_size must be positive")
	}
	if c.Kafka.Enabled && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when kafka is enabled")
	}
	if c.Janitor.Enabled && c.Janitor.ReservationTTL <= 0 {
		return fmt.Errorf("janitor.reservation_ttl must be positive")
	}
	for i, g := range c.Security.Grants {
		if g.Actor == "" {
			return fmt.Errorf("security.grants[%d].actor is required", i)
		}
		for _, capability := range g.Capabilities {
			if !validCapabilities[capability] {
				return fmt.Errorf("security.grants[%d]: unknown capability %q", i, capability)
			}
		}
	}
	return nil
}

// IsProduction reports whether the app runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
