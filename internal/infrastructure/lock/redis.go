package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/approval-chain/internal/application/port"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
)

// releaseScript deletes the lock only if it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only if it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = owner token
// ARGV[2] = ttl in milliseconds
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ErrLeaseLost is returned on release when the lease expired and another owner took the key
var ErrLeaseLost = errors.New("lock lease lost")

// RedisConfig configures the redis lock backend
type RedisConfig struct {
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
	// RenewInterval is how often a held lease extends its TTL.
	// Zero means TTL/3; a negative value disables renewal.
	RenewInterval time.Duration
}

// RedisLocker grants leases with SET NX PX and releases them with compare-and-delete.
// A held lease is renewed until released, so TTL only bounds how long a crashed
// holder can block the key.
type RedisLocker struct {
	client redis.UniversalClient
	config RedisConfig
	logger *zap.Logger
}

// NewRedisLocker creates a locker on an existing client
func NewRedisLocker(client redis.UniversalClient, config RedisConfig, logger *zap.Logger) *RedisLocker {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 25 * time.Millisecond
	}
	if config.RenewInterval == 0 {
		config.RenewInterval = config.TTL / 3
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "approval:lock:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisLocker{
		client: client,
		config: config,
		logger: logger,
	}
}

// Acquire polls SET NX until it wins or timeout elapses
func (l *RedisLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (port.Lease, error) {
	redisKey := l.config.KeyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			lease := &redisLease{locker: l, key: key, redisKey: redisKey, token: token}
			if l.config.RenewInterval > 0 {
				lease.stop = make(chan struct{})
				lease.done = make(chan struct{})
				go lease.keepAlive(context.WithoutCancel(ctx), l.config.RenewInterval)
			}
			return lease, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s after %s", domainwf.ErrLockTimeout, key, timeout)
		}

		wait := l.config.RetryInterval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type redisLease struct {
	locker   *RedisLocker
	key      string
	redisKey string
	token    string

	stop chan struct{}
	done chan struct{}

	once sync.Once
	err  error
}

func (r *redisLease) Key() string {
	return r.key
}

// keepAlive extends the TTL every interval until Release or until the key
// no longer holds our token
func (r *redisLease) keepAlive(ctx context.Context, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ttl := r.locker.config.TTL.Milliseconds()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		renewed, err := renewScript.Run(ctx, r.locker.client, []string{r.redisKey}, r.token, ttl).Int64()
		if err != nil {
			r.locker.logger.Warn("Failed to renew lock lease", zap.String("key", r.key), zap.Error(err))
			continue
		}
		if renewed == 0 {
			r.locker.logger.Warn("Lock lease lost while held", zap.String("key", r.key))
			return
		}
	}
}

func (r *redisLease) Release(ctx context.Context) error {
	r.once.Do(func() {
		if r.stop != nil {
			close(r.stop)
			<-r.done
		}
		deleted, err := releaseScript.Run(ctx, r.locker.client, []string{r.redisKey}, r.token).Int64()
		if err != nil {
			r.err = fmt.Errorf("redis unlock %s: %w", r.key, err)
			return
		}
		if deleted == 0 {
			r.locker.logger.Warn("Lock lease expired before release",
				zap.String("key", r.key),
				zap.Duration("ttl", r.locker.config.TTL),
			)
			r.err = fmt.Errorf("%w: %s", ErrLeaseLost, r.key)
		}
	})
	return r.err
}
