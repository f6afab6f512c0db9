// Package config loads the backtesting core's configuration from a YAML
// file and environment variables via spf13/viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Store     StoreConfig     `mapstructure:"store"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "console"
}

// StoreConfig configures the OHLCV store.
type StoreConfig struct {
	Root      string    `mapstructure:"root"`
	Exchange  string    `mapstructure:"exchange"`
	Inception time.Time `mapstructure:"inception"`
}

// JobsConfig configures the job manager's checkpoint cadence.
type JobsConfig struct {
	Root                      string        `mapstructure:"root"`
	CheckpointEveryIterations int           `mapstructure:"checkpoint_every_iterations"`
	CheckpointEveryInterval   time.Duration `mapstructure:"checkpoint_every_interval"`
}

// OptimizerConfig configures the parameter-sweep optimizer.
type OptimizerConfig struct {
	Workers          int     `mapstructure:"workers"`
	GridHardLimit    int     `mapstructure:"grid_hard_limit"`
	DefaultObjective string  `mapstructure:"default_objective"` // "sharpe" | "total_return" | "profit_factor"
	FailureThreshold float64 `mapstructure:"failure_threshold"` // abort sweep once failure ratio reaches this
}

// CacheConfig configures the store's optional Redis hot cache.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// ExchangeConfig contains upstream exchange client credentials and limits.
type ExchangeConfig struct {
	APIKey      string `mapstructure:"api_key"`
	SecretKey   string `mapstructure:"secret_key"`
	Testnet     bool   `mapstructure:"testnet"`
	RateLimitMS int    `mapstructure:"rate_limit_ms"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("BACKTESTCORE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("store.root", "./store")
	v.SetDefault("store.exchange", "binance")
	v.SetDefault("store.inception", time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC))

	v.SetDefault("jobs.root", "./jobs")
	v.SetDefault("jobs.checkpoint_every_iterations", 50)
	v.SetDefault("jobs.checkpoint_every_interval", 60*time.Second)

	v.SetDefault("optimizer.workers", 0) // 0 means GOMAXPROCS
	v.SetDefault("optimizer.grid_hard_limit", 500)
	v.SetDefault("optimizer.default_objective", "sharpe")
	v.SetDefault("optimizer.failure_threshold", 0.5)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.ttl", 30*time.Second)

	v.SetDefault("exchange.testnet", false)
	v.SetDefault("exchange.rate_limit_ms", 200)
}

// GetRedisAddr returns the configured hot-cache Redis address.
func (c *CacheConfig) GetRedisAddr() string {
	return c.RedisAddr
}
