// Package config loads runtime configuration for the reference
// adapters and the eventcored admin surface: the core itself owns
// only RetrySyncInterval.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of tunables the embedding application (or
// cmd/eventcored) may set. The core consumes only Sync.RetrySyncIntervalMS
// (through the RetrySyncInterval method);
// everything else configures the reference adapters under adapters/.
type Config struct {
	Env string `mapstructure:"env"`

	Sync struct {
		RetrySyncIntervalMS int `mapstructure:"retry_sync_interval_ms"`
	} `mapstructure:"sync"`

	NATS struct {
		URL    string `mapstructure:"url"`
		Stream string `mapstructure:"stream"`
	} `mapstructure:"nats"`

	Postgres struct {
		DSN             string `mapstructure:"dsn"`
		SnapshotCacheTTLSeconds int `mapstructure:"snapshot_cache_ttl_seconds"`
	} `mapstructure:"postgres"`

	Auth struct {
		JWTSecret     string `mapstructure:"jwt_secret"`
		TokenDuration int    `mapstructure:"token_duration_minutes"`
	} `mapstructure:"auth"`

	Connectivity struct {
		PingURL          string `mapstructure:"ping_url"`
		PollIntervalMS   int    `mapstructure:"poll_interval_ms"`
	} `mapstructure:"connectivity"`

	Admin struct {
		Port              int `mapstructure:"port"`
		RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	} `mapstructure:"admin"`
}

// RetrySyncInterval converts the configured millisecond tunable into a
// time.Duration, falling back to the core's own default (300s) when
// unset.
func (c Config) RetrySyncInterval() time.Duration {
	if c.Sync.RetrySyncIntervalMS <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.Sync.RetrySyncIntervalMS) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("sync.retry_sync_interval_ms", 300000)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "eventcore")
	v.SetDefault("postgres.snapshot_cache_ttl_seconds", 60)
	v.SetDefault("auth.token_duration_minutes", 60)
	v.SetDefault("connectivity.poll_interval_ms", 5000)
	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.rate_limit_per_minute", 120)
}

// Load reads configuration from configPath (directory containing
// config.yaml), environment variables prefixed EVENTCORE_ (nested keys
// use "_" for ".", e.g. EVENTCORE_SYNC_RETRY_SYNC_INTERVAL_MS), and
// defaults. Environment variables override the file, and the file
// overrides the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/eventcore")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("EVENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
