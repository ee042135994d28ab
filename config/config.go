package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ClientConfig holds all configuration for the auth sync layer and the
// aromactl tool. Tags use mapstructure for Viper unmarshalling and map
// directly to environment variable names.
type ClientConfig struct {
	// Identity provider (GoTrue-compatible) endpoint and publishable key.
	// Both are required; there is no sensible default for either.
	ProviderURL string `mapstructure:"PROVIDER_URL"`
	ProviderKey string `mapstructure:"PROVIDER_KEY"`

	// Profile store (PostgREST-compatible) endpoint. Defaults to
	// PROVIDER_URL with /rest/v1 in place of /auth/v1 when empty.
	ProfileURL string `mapstructure:"PROFILE_URL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	// Query cache backend: "memory" or "redis".
	CacheBackend string `mapstructure:"CACHE_BACKEND"`
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	RedisDB      int    `mapstructure:"REDIS_DB"`

	// Entry lifetime for cached queries, in minutes.
	CacheTTLMin int `mapstructure:"CACHE_TTL_MIN"`

	// When true the profile query cache survives sign-out; the exposed
	// profile is cleared regardless. Off by default: shared machines must
	// not leak the previous user's rows.
	RetainProfileCacheOnSignOut bool `mapstructure:"RETAIN_PROFILE_CACHE_ON_SIGN_OUT"`

	// Token refresh scheduling: refresh fires this many seconds before the
	// access token expires, and failed refreshes retry with exponential
	// backoff up to the given attempt count.
	RefreshMarginSec   int `mapstructure:"REFRESH_MARGIN_SEC"`
	RefreshRetryMax    int `mapstructure:"REFRESH_RETRY_MAX"`
	RefreshRetryBaseMS int `mapstructure:"REFRESH_RETRY_BASE_MS"`
	ProfileRetryMax    int `mapstructure:"PROFILE_RETRY_MAX"`
	ProfileRetryBaseMS int `mapstructure:"PROFILE_RETRY_BASE_MS"`
	ProviderTimeoutSec int `mapstructure:"PROVIDER_TIMEOUT_SEC"`

	// Address for the optional Prometheus scrape endpoint of aromactl
	// watch. Empty disables it.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ClientConfig, error) {
	v := viper.New()

	v.SetConfigName("aromachat")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/aromachat/")
	v.AddConfigPath("$HOME/.aromachat")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Empty defaults register the env-only keys so Unmarshal picks them up.
	v.SetDefault("PROVIDER_URL", "")
	v.SetDefault("PROVIDER_KEY", "")
	v.SetDefault("PROFILE_URL", "")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL_MIN", 15)
	v.SetDefault("RETAIN_PROFILE_CACHE_ON_SIGN_OUT", false)
	v.SetDefault("REFRESH_MARGIN_SEC", 60)
	v.SetDefault("REFRESH_RETRY_MAX", 5)
	v.SetDefault("REFRESH_RETRY_BASE_MS", 500)
	v.SetDefault("PROFILE_RETRY_MAX", 3)
	v.SetDefault("PROFILE_RETRY_BASE_MS", 250)
	v.SetDefault("PROVIDER_TIMEOUT_SEC", 10)

	if err := v.ReadInConfig(); err != nil {
		// ConfigFileNotFoundError is acceptable, means we use defaults/env vars.
		// Other errors (e.g., permission issues, malformed config) should be returned.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if cfg.ProfileURL == "" && cfg.ProviderURL != "" {
		cfg.ProfileURL = strings.Replace(cfg.ProviderURL, "/auth/v1", "/rest/v1", 1)
	}

	return &cfg, nil
}

// Validate checks the fields no component can default for.
func (c *ClientConfig) Validate() error {
	if c.ProviderURL == "" {
		return fmt.Errorf("PROVIDER_URL is required")
	}
	if c.ProviderKey == "" {
		return fmt.Errorf("PROVIDER_KEY is required")
	}
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("CACHE_BACKEND must be \"memory\" or \"redis\", got %q", c.CacheBackend)
	}
	return nil
}
