// Package config provides configuration management for the pipeline daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the webhook listener configuration.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds persistence configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// BrokerConfig holds broker API configuration.
type BrokerConfig struct {
	DemoBaseURL       string        `mapstructure:"demo_base_url"`
	LiveBaseURL       string        `mapstructure:"live_base_url"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ReadCacheTTL      time.Duration `mapstructure:"read_cache_ttl"`
}

// SchedulerConfig holds the background job cadence and bounds.
type SchedulerConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	DividendInterval  time.Duration `mapstructure:"dividend_interval"`
	OrderRetention    time.Duration `mapstructure:"order_retention"`
	Workers           int           `mapstructure:"workers"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// DefaultConfigDir returns the configuration directory.
func DefaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tradehook")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("database.path", filepath.Join(DefaultConfigDir(), "tradehook.db"))

	v.SetDefault("broker.demo_base_url", "https://demo-api.ig.com/gateway/deal")
	v.SetDefault("broker.live_base_url", "https://api.ig.com/gateway/deal")
	v.SetDefault("broker.requests_per_minute", 30)
	v.SetDefault("broker.request_timeout", 30*time.Second)
	v.SetDefault("broker.read_cache_ttl", 5*time.Second)

	v.SetDefault("scheduler.reconcile_interval", time.Minute)
	v.SetDefault("scheduler.cleanup_interval", 24*time.Hour)
	v.SetDefault("scheduler.dividend_interval", 7*24*time.Hour)
	v.SetDefault("scheduler.order_retention", 30*24*time.Hour)
	v.SetDefault("scheduler.workers", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(DefaultConfigDir(), "logs", "tradehook.log"))
}

// Load reads configuration from the config file and environment. Environment
// variables use the TRADEHOOK_ prefix with underscores, e.g.
// TRADEHOOK_BROKER_REQUESTS_PER_MINUTE.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRADEHOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Broker.RequestsPerMinute <= 0 {
		return fmt.Errorf("broker.requests_per_minute must be positive, got %d", c.Broker.RequestsPerMinute)
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.ReconcileInterval <= 0 {
		return fmt.Errorf("scheduler.reconcile_interval must be positive")
	}
	return nil
}
