package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type Config struct {
	Environment string `toml:"-"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// users, posts and images
	Storage        string `toml:"storage"`
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`

	// sessions
	SessionStore                string `toml:"session_store"`
	RedisHost                   string `toml:"redis_host"`
	RedisPort                   string `toml:"redis_port"`
	SessionTTLSeconds           int    `toml:"session_ttl_seconds"`
	SessionCleanIntervalSeconds int    `toml:"session_clean_interval_seconds"`
	LoginRateLimitAllowedPerMin int    `toml:"login_rate_limit_per_min"`

	AdminUsername      string `toml:"admin_username"`
	MaxUploadSizeBytes int64  `toml:"max_upload_size_bytes"`
	ImageCacheSize     int    `toml:"image_cache_size_bytes"`

	// origins allowed for cross-origin requests, besides same-origin ones
	AllowedOrigins []string `toml:"allowed_origins"`

	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) SessionCleanInterval() time.Duration {
	return time.Duration(c.SessionCleanIntervalSeconds) * time.Second
}

// Validate fills the defaults for unset values and checks the enum fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 1234
	}
	if c.Storage == "" {
		c.Storage = StorageMemory
	}
	if c.SessionStore == "" {
		c.SessionStore = SessionStoreMemory
	}
	if c.SessionTTLSeconds <= 0 {
		// 5 years
		c.SessionTTLSeconds = 157680000
	}
	if c.SessionCleanIntervalSeconds <= 0 {
		c.SessionCleanIntervalSeconds = 8 * 60 * 60
	}
	if c.LoginRateLimitAllowedPerMin <= 0 {
		c.LoginRateLimitAllowedPerMin = 15
	}
	if c.AdminUsername == "" {
		c.AdminUsername = "admin"
	}
	if c.MaxUploadSizeBytes <= 0 {
		c.MaxUploadSizeBytes = 32 * 1024 * 1024
	}
	if c.ImageCacheSize <= 0 {
		c.ImageCacheSize = 64 * 1024 * 1024
	}

	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresHost == "" || c.PostgresPort == "" || c.PostgresDBName == "" {
			return fmt.Errorf("postgres storage needs postgres_host, postgres_port and postgres_db_name")
		}
	default:
		return fmt.Errorf("unknown storage: %s", c.Storage)
	}

	switch c.SessionStore {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.RedisHost == "" || c.RedisPort == "" {
			return fmt.Errorf("redis session store needs redis_host and redis_port")
		}
	default:
		return fmt.Errorf("unknown session store: %s", c.SessionStore)
	}

	return nil
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config section for env: %s", env)
	}
	cfg.Environment = strings.ToLower(env)
	return cfg, nil
}

// Load reads the TOML file and returns the validated config section for the env.
func Load(env, path string) (*Config, error) {
	var tomlConfig Toml
	if _, err := toml.DecodeFile(path, &tomlConfig); err != nil {
		return nil, fmt.Errorf("decode toml config [%s]: %w", path, err)
	}

	cfg, err := tomlConfig.Get(env)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid [%s] config: %w", env, err)
	}

	return cfg, nil
}
