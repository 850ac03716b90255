// Package config provides configuration management for the face relay.
// Values come from defaults, an optional YAML file and STFACE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MRamiBalles/stface-relay/internal/platform/optimization"
)

// EnvPrefix is prepended to every environment override, e.g. STFACE_SERVER_ADDR.
const EnvPrefix = "STFACE"

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Cache   CacheConfig   `mapstructure:"cache"`
	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tuning  TuningConfig  `mapstructure:"tuning"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AssetsDir       string        `mapstructure:"assets_dir"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// RelayConfig configures the sample gate in front of the engine.
type RelayConfig struct {
	GameID              string  `mapstructure:"game_id"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// StorageConfig configures the SQLite session store. Empty path disables it.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the optional Redis state cache. Empty addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig controls how the latest state is published to Redis.
type CacheConfig struct {
	Expiration      time.Duration `mapstructure:"expiration"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// HistoryConfig controls tick retention in SQLite.
type HistoryConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TuningConfig picks an optimization preset.
type TuningConfig struct {
	Profile string `mapstructure:"profile"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8765",
			AssetsDir:       "assets",
			PollInterval:    100 * time.Millisecond,
			ShutdownTimeout: 5 * time.Second,
		},
		Relay: RelayConfig{
			GameID:              "default",
			ConfidenceThreshold: 0.70,
		},
		Storage: StorageConfig{
			Path: "data/stface.db",
		},
		Cache: CacheConfig{
			Expiration:      15 * time.Minute,
			RefreshInterval: time.Minute,
		},
		History: HistoryConfig{
			Retention:     24 * time.Hour,
			PruneInterval: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tuning: TuningConfig{
			Profile: "default",
		},
	}
}

// Load reads configuration from the given file (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("stface")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the relay cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Relay.ConfidenceThreshold < 0 || c.Relay.ConfidenceThreshold > 1 {
		return fmt.Errorf("relay.confidence_threshold must be within [0,1], got %v", c.Relay.ConfidenceThreshold)
	}
	if c.Server.PollInterval <= 0 {
		return fmt.Errorf("server.poll_interval must be positive, got %v", c.Server.PollInterval)
	}
	return nil
}

// TuningPreset resolves the configured optimization profile.
func (c *Config) TuningPreset() *optimization.Config {
	return optimization.ByName(c.Tuning.Profile)
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.assets_dir", d.Server.AssetsDir)
	v.SetDefault("server.poll_interval", d.Server.PollInterval)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("relay.game_id", d.Relay.GameID)
	v.SetDefault("relay.confidence_threshold", d.Relay.ConfidenceThreshold)

	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("cache.expiration", d.Cache.Expiration)
	v.SetDefault("cache.refresh_interval", d.Cache.RefreshInterval)

	v.SetDefault("history.retention", d.History.Retention)
	v.SetDefault("history.prune_interval", d.History.PruneInterval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("tuning.profile", d.Tuning.Profile)
}
