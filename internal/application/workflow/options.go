package workflow

import (
	"time"

	"github.com/garyjia/approval-chain/internal/application/dispatcher"
	"github.com/garyjia/approval-chain/internal/application/port"
)

// LockScope selects which aggregate a decision locks
type LockScope string

const (
	// LockScopeRequest locks request:<id>
	LockScopeRequest LockScope = "request"

	// LockScopeSubject locks subject:<type>:<id>, serializing every request of one subject
	LockScopeSubject LockScope = "subject"
)

// DefaultLockTimeout bounds lock acquisition when no timeout is configured
const DefaultLockTimeout = 5 * time.Second

// Recorder receives engine measurements
type Recorder interface {
	ObserveTransition(action, result string)
	ObserveLockWait(wait time.Duration, acquired bool)
	ObservePublish(outcome string, err error)
}

type noopRecorder struct{}

func (noopRecorder) ObserveTransition(string, string) {}

func (noopRecorder) ObserveLockWait(time.Duration, bool) {}

func (noopRecorder) ObservePublish(string, error) {}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithPublisher sets where completions are delivered after commit
func WithPublisher(p port.CompletionPublisher) EngineOption {
	return func(e *engineImpl) {
		e.publisher = p
	}
}

// WithDispatcher sets the dispatcher for non-terminal lifecycle events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLockTimeout bounds how long a mutation waits for its lock
func WithLockTimeout(timeout time.Duration) EngineOption {
	return func(e *engineImpl) {
		if timeout > 0 {
			e.lockTimeout = timeout
		}
	}
}

// WithLockScope selects the lock key used by Approve and Reject
func WithLockScope(scope LockScope) EngineOption {
	return func(e *engineImpl) {
		e.lockScope = scope
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) EngineOption {
	return func(e *engineImpl) {
		e.recorder = r
	}
}

// WithLogger sets the engine logger
func WithLogger(logger dispatcher.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}
