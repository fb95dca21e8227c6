// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	History() HistoryConfig
	TaskQueue() TaskQueueConfig
	Bus() BusConfig
	Store() StoreConfig
	Metrics() MetricsConfig

	// History Setters
	SetHistoryMaxEntries(int)
	SetHistoryTraversalTimeout(d time.Duration)

	// Store Setters
	SetStoreDriver(driver string)
}

// Config holds the entire application configuration.
// Sections are exported for the decoder; callers go through the Interface getters.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	HistoryCfg   HistoryConfig   `mapstructure:"history" yaml:"history"`
	TaskQueueCfg TaskQueueConfig `mapstructure:"taskqueue" yaml:"taskqueue"`
	BusCfg       BusConfig       `mapstructure:"bus" yaml:"bus"`
	StoreCfg     StoreConfig     `mapstructure:"store" yaml:"store"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// -- Getters --

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) History() HistoryConfig     { return c.HistoryCfg }
func (c *Config) TaskQueue() TaskQueueConfig { return c.TaskQueueCfg }
func (c *Config) Bus() BusConfig             { return c.BusCfg }
func (c *Config) Store() StoreConfig         { return c.StoreCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }

// -- Setters --

func (c *Config) SetHistoryMaxEntries(n int) { c.HistoryCfg.MaxEntries = n }
func (c *Config) SetHistoryTraversalTimeout(d time.Duration) {
	c.HistoryCfg.TraversalTimeout = d
}
func (c *Config) SetStoreDriver(driver string) { c.StoreCfg.Driver = driver }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// HistoryConfig bounds the session history of each top-level traversable.
type HistoryConfig struct {
	// MaxEntries caps the top-level entry list. Zero means unbounded.
	MaxEntries       int           `mapstructure:"max_entries" yaml:"max_entries"`
	TraversalTimeout time.Duration `mapstructure:"traversal_timeout" yaml:"traversal_timeout"`
	// StateRateLimit is the number of pushState/replaceState updates allowed per second
	// for a single traversable.
	StateRateLimit float64 `mapstructure:"state_rate_limit" yaml:"state_rate_limit"`
	StateBurst     int     `mapstructure:"state_burst" yaml:"state_burst"`
	MaxStateBytes  int     `mapstructure:"max_state_bytes" yaml:"max_state_bytes"`
	EntryCacheSize int     `mapstructure:"entry_cache_size" yaml:"entry_cache_size"`
}

// TaskQueueConfig configures the serial task queues.
type TaskQueueConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// BusConfig configures the constellation message bus.
type BusConfig struct {
	BufferSize int        `mapstructure:"buffer_size" yaml:"buffer_size"`
	NATS       NATSConfig `mapstructure:"nats" yaml:"nats"`
}

// NATSConfig configures the optional cross-process relay.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	URL           string `mapstructure:"url" yaml:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// StoreConfig selects where session snapshots are persisted.
type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// ResolvedSQLitePath expands a leading tilde in the configured SQLite path.
func (s StoreConfig) ResolvedSQLitePath() (string, error) {
	p, err := homedir.Expand(s.SQLitePath)
	if err != nil {
		return "", fmt.Errorf("failed to expand store.sqlite_path: %w", err)
	}
	return p, nil
}

// MetricsConfig toggles prometheus instrumentation.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "histcore")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- History --
	v.SetDefault("history.max_entries", 0)
	v.SetDefault("history.traversal_timeout", "30s")
	v.SetDefault("history.state_rate_limit", 10.0)
	v.SetDefault("history.state_burst", 20)
	v.SetDefault("history.max_state_bytes", 16*1024*1024)
	v.SetDefault("history.entry_cache_size", 256)

	// -- Task Queues --
	v.SetDefault("taskqueue.buffer_size", 64)

	// -- Bus --
	v.SetDefault("bus.buffer_size", 100)
	v.SetDefault("bus.nats.enabled", false)
	v.SetDefault("bus.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("bus.nats.subject_prefix", "histcore.constellation")

	// -- Store --
	v.SetDefault("store.driver", "none")
	v.SetDefault("store.sqlite_path", "~/.histcore/history.db")
	v.SetDefault("store.postgres_url", "")

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.prefix", "histcore")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials in the DSN should come from the environment, not the config file.
	_ = v.BindEnv("store.postgres_url", "HISTCORE_POSTGRES_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.HistoryCfg.MaxEntries < 0 {
		return fmt.Errorf("history.max_entries must not be negative")
	}
	if c.HistoryCfg.TraversalTimeout <= 0 {
		return fmt.Errorf("history.traversal_timeout must be a positive duration")
	}
	if c.HistoryCfg.StateRateLimit <= 0 || c.HistoryCfg.StateBurst <= 0 {
		return fmt.Errorf("history.state_rate_limit and history.state_burst must be positive")
	}
	if c.HistoryCfg.EntryCacheSize <= 0 {
		return fmt.Errorf("history.entry_cache_size must be a positive integer")
	}
	if c.BusCfg.BufferSize < 0 {
		return fmt.Errorf("bus.buffer_size must not be negative")
	}
	if err := c.BusCfg.NATS.Validate(); err != nil {
		return fmt.Errorf("bus.nats configuration invalid: %w", err)
	}
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the NATS relay settings.
func (n *NATSConfig) Validate() error {
	if !n.Enabled {
		return nil
	}
	if n.URL == "" {
		return fmt.Errorf("url is required when the relay is enabled")
	}
	if n.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix is required when the relay is enabled")
	}
	return nil
}

// Validate checks the store settings.
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case "", "none":
		return nil
	case "sqlite":
		if s.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite driver")
		}
		return nil
	case "postgres":
		if s.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for the postgres driver. Ensure HISTCORE_POSTGRES_URL is set")
		}
		return nil
	default:
		return fmt.Errorf("unknown driver %q (expected none, sqlite or postgres)", s.Driver)
	}
}
