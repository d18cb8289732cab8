package workflow

import "errors"

// State machine errors
var (
	// ErrInvalidTransition is returned when a trigger is not configured for the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every guard for a configured trigger rejects it
	ErrGuardFailed = errors.New("guard condition failed")
)

// Approval errors. Callers classify with errors.Is; messages carry the detail.
var (
	// ErrNotFound is returned for unknown requests or templates
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed templates, zero-level chains and missing approvers
	ErrValidation = errors.New("validation failed")

	// ErrIllegalState is returned when an action targets a request or level in the wrong state
	ErrIllegalState = errors.New("illegal state")

	// ErrUnauthorized is returned when the actor is not the expected approver of the current level
	ErrUnauthorized = errors.New("actor is not the expected approver")

	// ErrLockTimeout is returned when the aggregate lock could not be acquired in time.
	// It is the only retryable error.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// IsRetryable reports whether err is transient and the caller may retry the call
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// Classify returns a stable label for err, used in metrics and logs
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrIllegalState):
		return "illegal_state"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	default:
		return "error"
	}
}
