package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes environment overrides, e.g. APPROVAL_LOCK_BACKEND
const EnvPrefix = "APPROVAL"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Lock      LockConfig      `mapstructure:"lock"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// LockConfig selects the lock backend and its bounds
type LockConfig struct {
	Backend string        `mapstructure:"backend"` // memory or redis
	Timeout time.Duration `mapstructure:"timeout"`
	Scope   string        `mapstructure:"scope"` // request or subject
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds the redis lock connection
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	RenewInterval time.Duration `mapstructure:"renew_interval"`
}

// PublisherConfig selects where completions go
type PublisherConfig struct {
	Backend            string        `mapstructure:"backend"` // dispatcher, nats or fanout
	RedeliveryBatch    int           `mapstructure:"redelivery_batch"`
	RedeliveryInterval time.Duration `mapstructure:"redelivery_interval"` // 0 disables the worker
	NATS               NATSConfig    `mapstructure:"nats"`
}

// NATSConfig holds the NATS connection
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	ClientName    string `mapstructure:"client_name"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Load reads configuration from the YAML file at configPath, a .env file next to the
// working directory, and APPROVAL_* environment variables, in increasing precedence.
// A missing config file is not an error; defaults and environment apply.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Every key needs a default so
// AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.mode", "release")

	// Database defaults
	v.SetDefault("database.path", "data/approval.db")
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Lock defaults
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.timeout", 5*time.Second)
	v.SetDefault("lock.scope", "request")
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.redis.key_prefix", "approval:lock:")
	v.SetDefault("lock.redis.ttl", 30*time.Second)
	v.SetDefault("lock.redis.retry_interval", 25*time.Millisecond)
	v.SetDefault("lock.redis.renew_interval", 10*time.Second)

	// Publisher defaults
	v.SetDefault("publisher.backend", "dispatcher")
	v.SetDefault("publisher.redelivery_batch", 100)
	v.SetDefault("publisher.redelivery_interval", 30*time.Second)
	v.SetDefault("publisher.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("publisher.nats.subject_prefix", "approval.completed")
	v.SetDefault("publisher.nats.client_name", "approval-chain")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "approval")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required for the redis backend")
		}
		if c.Lock.Redis.TTL <= c.Lock.Timeout {
			return fmt.Errorf("lock.redis.ttl must exceed lock.timeout")
		}
		if c.Lock.Redis.RenewInterval >= c.Lock.Redis.TTL {
			return fmt.Errorf("lock.redis.renew_interval must be shorter than lock.redis.ttl")
		}
	default:
		return fmt.Errorf("unknown lock.backend %q", c.Lock.Backend)
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive")
	}
	if c.Lock.Scope != "request" && c.Lock.Scope != "subject" {
		return fmt.Errorf("unknown lock.scope %q", c.Lock.Scope)
	}

	switch c.Publisher.Backend {
	case "dispatcher":
	case "nats", "fanout":
		if c.Publisher.NATS.URL == "" {
			return fmt.Errorf("publisher.nats.url is required for the %s backend", c.Publisher.Backend)
		}
	default:
		return fmt.Errorf("unknown publisher.backend %q", c.Publisher.Backend)
	}

	if c.Publisher.RedeliveryInterval < 0 {
		return fmt.Errorf("publisher.redelivery_interval must not be negative")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}
