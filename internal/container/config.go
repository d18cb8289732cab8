// Package container provides dependency injection and lifecycle management
// for the approval chain service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database  DatabaseConfig
	Lock      LockConfig
	Publisher PublisherConfig
	Metrics   MetricsConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// BusyTimeout bounds how long a writer waits for the sqlite write lock
	BusyTimeout time.Duration
}

// LockConfig holds the request lock settings.
type LockConfig struct {
	// Backend is memory or redis
	Backend string

	// Timeout bounds lock acquisition
	Timeout time.Duration

	// Scope is request or subject
	Scope string

	Redis RedisConfig
}

// RedisConfig holds the redis lock connection.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
	RenewInterval time.Duration
}

// PublisherConfig holds completion delivery settings.
type PublisherConfig struct {
	// Backend is dispatcher, nats or fanout
	Backend string

	// RedeliveryBatch caps outbox rows redelivered per pass
	RedeliveryBatch int

	// RedeliveryInterval is the period of the background redelivery worker; zero disables it
	RedeliveryInterval time.Duration

	NATSURL       string
	SubjectPrefix string
	ClientName    string
}

// MetricsConfig holds prometheus settings.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/approval.db",
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Lock: LockConfig{
			Backend: LockBackendMemory,
			Timeout: 5 * time.Second,
			Scope:   "request",
			Redis: RedisConfig{
				Addr:          "localhost:6379",
				KeyPrefix:     "approval:lock:",
				TTL:           30 * time.Second,
				RetryInterval: 25 * time.Millisecond,
				RenewInterval: 10 * time.Second,
			},
		},
		Publisher: PublisherConfig{
			Backend:            PublisherDispatcher,
			RedeliveryBatch:    100,
			RedeliveryInterval: 30 * time.Second,
			SubjectPrefix:      "approval.completed",
			ClientName:         "approval-chain",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "approval",
		},
	}
}

// Lock backends
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Publisher backends
const (
	PublisherDispatcher = "dispatcher"
	PublisherNATS       = "nats"
	PublisherFanout     = "fanout"
)

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Lock.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive")
	}

	switch c.Publisher.Backend {
	case PublisherDispatcher:
	case PublisherNATS, PublisherFanout:
		if c.Publisher.NATSURL == "" {
			return fmt.Errorf("publisher.nats.url is required")
		}
	default:
		return fmt.Errorf("unknown publisher backend %q", c.Publisher.Backend)
	}

	return nil
}
