package config

import (
	"github.com/garyjia/approval-chain/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Lock: container.LockConfig{
			Backend: c.Lock.Backend,
			Timeout: c.Lock.Timeout,
			Scope:   c.Lock.Scope,
			Redis: container.RedisConfig{
				Addr:          c.Lock.Redis.Addr,
				Password:      c.Lock.Redis.Password,
				DB:            c.Lock.Redis.DB,
				KeyPrefix:     c.Lock.Redis.KeyPrefix,
				TTL:           c.Lock.Redis.TTL,
				RetryInterval: c.Lock.Redis.RetryInterval,
				RenewInterval: c.Lock.Redis.RenewInterval,
			},
		},
		Publisher: container.PublisherConfig{
			Backend:            c.Publisher.Backend,
			RedeliveryBatch:    c.Publisher.RedeliveryBatch,
			RedeliveryInterval: c.Publisher.RedeliveryInterval,
			NATSURL:            c.Publisher.NATS.URL,
			SubjectPrefix:      c.Publisher.NATS.SubjectPrefix,
			ClientName:         c.Publisher.NATS.ClientName,
		},
		Metrics: container.MetricsConfig{
			Enabled:   c.Metrics.Enabled,
			Namespace: c.Metrics.Namespace,
		},
	}
}
