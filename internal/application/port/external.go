package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-chain/internal/domain/event"
)

// CompletionPublisher delivers completion events to subscribing domains.
// It is called after the terminal transition committed; an error never undoes that transition.
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, completion event.Completion) error
}

// Lease is a held exclusive lock
type Lease interface {
	// Key returns the locked key
	Key() string

	// Release frees the lock. Releasing twice is a no-op.
	Release(ctx context.Context) error
}

// Locker grants exclusive, scoped locks keyed by aggregate.
// Acquire waits at most timeout and then fails with ErrLockTimeout.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Lease, error)
}
