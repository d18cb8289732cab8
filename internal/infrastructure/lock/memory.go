package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/approval-chain/internal/application/port"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
)

// MemoryLocker is an in-process keyed mutex.
// Waiters for a key queue on a one-slot channel; idle keys are dropped.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an empty in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot)}
}

// Acquire waits up to timeout for key
func (l *MemoryLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (port.Lease, error) {
	s := l.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return &memoryLease{locker: l, key: key, slot: s}, nil
	case <-timer.C:
		l.unref(key)
		return nil, fmt.Errorf("%w: %s after %s", domainwf.ErrLockTimeout, key, timeout)
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}
}

// Held reports the number of keys currently tracked, held or awaited
func (l *MemoryLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *MemoryLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	slot   *slot
	once   sync.Once
}

func (m *memoryLease) Key() string {
	return m.key
}

func (m *memoryLease) Release(ctx context.Context) error {
	m.once.Do(func() {
		<-m.slot.ch
		m.locker.unref(m.key)
	})
	return nil
}
