// Package config loads service configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	FanoutDriverLocal = "local"
	FanoutDriverRedis = "redis"
)

type Config struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	DatabaseURL string `mapstructure:"database_url"`
	LogLevel    string `mapstructure:"log_level"`

	AccessSecret      string        `mapstructure:"access_secret"`
	RefreshSecret     string        `mapstructure:"refresh_secret"`
	AccessExpiration  time.Duration `mapstructure:"access_expiration"`
	RefreshExpiration time.Duration `mapstructure:"refresh_expiration"`

	// FanoutDriver selects the registry implementation: "local" keeps the
	// subscriber sets in process, "redis" shares them across instances.
	FanoutDriver  string `mapstructure:"fanout_driver"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// Load reads configFile if given (otherwise looks for config.yaml in the
// working directory), then applies environment overrides. Every key is
// reachable as an env var with the CHAT_ prefix, e.g. CHAT_DATABASE_URL.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Every key needs a registered default so AutomaticEnv values reach
	// Unmarshal even when no config file exists.
	v.SetDefault("listen_addr", ":8082")
	v.SetDefault("database_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("access_secret", "")
	v.SetDefault("refresh_secret", "")
	v.SetDefault("access_expiration", time.Hour)
	v.SetDefault("refresh_expiration", 7*24*time.Hour)
	v.SetDefault("fanout_driver", FanoutDriverLocal)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// No file is fine; env vars and defaults carry the config.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (CHAT_DATABASE_URL)")
	}
	if cfg.AccessSecret == "" {
		return nil, fmt.Errorf("access_secret is required (CHAT_ACCESS_SECRET)")
	}
	switch cfg.FanoutDriver {
	case FanoutDriverLocal, FanoutDriverRedis:
	default:
		return nil, fmt.Errorf("unknown fanout_driver %q", cfg.FanoutDriver)
	}
	return &cfg, nil
}
