package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	RateLimit  RateLimitConfig
	DeadLetter DeadLetterConfig
	Analytics  AnalyticsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Type string `mapstructure:"type"` // "memory", "sqlite" or "postgres"
	Path string `mapstructure:"path"` // sqlite database file
	DSN  string `mapstructure:"dsn"`  // postgres connection string
}

// RateLimitConfig holds per-client rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DeadLetterConfig tunes the failed-scrape triage queue
type DeadLetterConfig struct {
	PreviewBytes int `mapstructure:"preview_bytes"`
}

// AnalyticsConfig holds rollup configuration
type AnalyticsConfig struct {
	DefaultPeriod string `mapstructure:"default_period"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/budalert/")

	// Environment variable settings
	v.SetEnvPrefix("BUDALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	setDefaults(v)

	// Read config file (optional - will use env vars if file doesn't exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using environment variables and defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", "budalert.db")

	// Rate limit defaults
	v.SetDefault("ratelimit.requests_per_second", 10.0)
	v.SetDefault("ratelimit.burst", 20)

	// Dead letter defaults
	v.SetDefault("deadletter.preview_bytes", 1000)

	// Analytics defaults
	v.SetDefault("analytics.default_period", "daily")
}

// validate validates the configuration
func validate(config *Config) error {
	switch config.Storage.Type {
	case "memory":
	case "sqlite":
		if config.Storage.Path == "" {
			return fmt.Errorf("storage path is required when storage type is 'sqlite'")
		}
	case "postgres":
		if config.Storage.DSN == "" {
			return fmt.Errorf("storage DSN is required when storage type is 'postgres' (set BUDALERT_STORAGE_DSN)")
		}
	default:
		return fmt.Errorf("storage type must be 'memory', 'sqlite' or 'postgres', got: %s", config.Storage.Type)
	}

	if config.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requests_per_second must be positive, got: %v", config.RateLimit.RequestsPerSecond)
	}
	if config.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit burst must be positive, got: %d", config.RateLimit.Burst)
	}

	if config.DeadLetter.PreviewBytes < 0 {
		return fmt.Errorf("dead letter preview_bytes must not be negative, got: %d", config.DeadLetter.PreviewBytes)
	}

	if config.Analytics.DefaultPeriod != "daily" && config.Analytics.DefaultPeriod != "weekly" {
		return fmt.Errorf("analytics default_period must be 'daily' or 'weekly', got: %s", config.Analytics.DefaultPeriod)
	}

	return nil
}
