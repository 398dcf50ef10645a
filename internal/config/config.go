package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Unlock    UnlockConfig    `mapstructure:"unlock"`
	Emergency EmergencyConfig `mapstructure:"emergency"`
	Plans     PlansConfig     `mapstructure:"plans"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// UnlockConfig defines unlock state machine settings
type UnlockConfig struct {
	GracePeriod      string `mapstructure:"grace_period"`
	TickInterval     string `mapstructure:"tick_interval"`
	UsageRetention   int    `mapstructure:"usage_retention_days"`
	DailyResetTime   string `mapstructure:"daily_reset_time"`
	SecondsPerRepCap int    `mapstructure:"seconds_per_rep_cap"`
}

// EmergencyConfig defines emergency unlock defaults. Persisted settings in
// the store take precedence once written.
type EmergencyConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxPerDay     int  `mapstructure:"max_per_day"`
	MinutesPerUse int  `mapstructure:"minutes_per_use"`
}

// PlansConfig defines per-tier daily caps. Empty or "0s" means unlimited.
type PlansConfig struct {
	FreeDailyCap     string `mapstructure:"free_daily_cap"`
	ProDailyCap      string `mapstructure:"pro_daily_cap"`
	AdvancedDailyCap string `mapstructure:"advanced_daily_cap"`
}

// BridgeConfig defines the platform enforcement bridge settings
type BridgeConfig struct {
	Endpoint     string `mapstructure:"endpoint"` // empty = no bridge, UI-only overlay
	PollInterval string `mapstructure:"poll_interval"`
	Timeout      string `mapstructure:"timeout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("EARNLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if os.IsNotExist(err) {
				// Missing file is fine, run on defaults and environment
			} else {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8710)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "127.0.0.1")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/earnlock/earnlock.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Unlock defaults
	v.SetDefault("unlock.grace_period", "0s")
	v.SetDefault("unlock.tick_interval", "1s")
	v.SetDefault("unlock.usage_retention_days", 90)
	v.SetDefault("unlock.daily_reset_time", "00:00")

	// Emergency unlock defaults
	v.SetDefault("emergency.enabled", true)
	v.SetDefault("emergency.max_per_day", 3)
	v.SetDefault("emergency.minutes_per_use", 15)

	// Plan cap defaults
	v.SetDefault("plans.free_daily_cap", "1h")
	v.SetDefault("plans.pro_daily_cap", "4h")
	v.SetDefault("plans.advanced_daily_cap", "0s")

	// Bridge defaults
	v.SetDefault("bridge.endpoint", "")
	v.SetDefault("bridge.poll_interval", "3s")
	v.SetDefault("bridge.timeout", "2s")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Emergency.MaxPerDay < 0 {
		return fmt.Errorf("emergency.max_per_day must not be negative")
	}
	switch cfg.Emergency.MinutesPerUse {
	case 10, 15, 30:
	default:
		return fmt.Errorf("emergency.minutes_per_use must be 10, 15 or 30")
	}

	if cfg.Unlock.UsageRetention <= 0 {
		return fmt.Errorf("unlock.usage_retention_days must be positive")
	}

	return nil
}
