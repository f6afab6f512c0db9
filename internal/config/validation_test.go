package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{LogLevel: "info", LogFormat: "console"},
		Store: StoreConfig{Root: "./store", Exchange: "binance", Inception: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)},
		Jobs:  JobsConfig{Root: "./jobs", CheckpointEveryIterations: 50, CheckpointEveryInterval: 60 * time.Second},
		Optimizer: OptimizerConfig{
			Workers: 4, GridHardLimit: 500, DefaultObjective: "sharpe", FailureThreshold: 0.5,
		},
		Cache:    CacheConfig{Enabled: false},
		Exchange: ExchangeConfig{RateLimitMS: 200},
	}
}

func TestValidateValidConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadObjective(t *testing.T) {
	cfg := validConfig()
	cfg.Optimizer.DefaultObjective = "alpha"
	err := cfg.Validate()
	require.Error(t, err)
	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	found := false
	for _, v := range verrs {
		if v.Field == "optimizer.default_objective" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateRequiresRedisAddrWhenCacheEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.RedisAddr = ""
	cfg.Cache.TTL = time.Second
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsZeroInception(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Inception = time.Time{}
	require.Error(t, cfg.Validate())
}
