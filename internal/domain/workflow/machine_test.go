package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type lastLevelKey struct{}

func withLastLevel(ctx context.Context, last bool) context.Context {
	return context.WithValue(ctx, lastLevelKey{}, last)
}

func isLastLevel(ctx context.Context) bool {
	last, _ := ctx.Value(lastLevelKey{}).(bool)
	return last
}

func newApprovalBuilder() StateMachineBuilder {
	builder := NewBuilder()
	builder.Configure(StatePending).
		PermitIf(TriggerApprove, StateApproved, isLastLevel).
		PermitIf(TriggerApprove, StatePending, func(ctx context.Context) bool { return !isLastLevel(ctx) }).
		Permit(TriggerReject, StateRejected)
	return builder
}

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateApproved, true},
		{StateRejected, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"pending", StatePending, true},
		{"approved", StateApproved, true},
		{"rejected", StateRejected, true},
		{"unknown", State("CANCELLED"), false},
		{"empty", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerReject.String(); got != "REJECT" {
		t.Errorf("Trigger.String() = %v, want %v", got, "REJECT")
	}
}

func TestBuilder_ConfigureReturnsSameConfig(t *testing.T) {
	builder := NewBuilder()

	first := builder.Configure(StatePending)
	second := builder.Configure(StatePending)
	if first != second {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_Panics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"configure invalid state", func() { NewBuilder().Configure(State("INVALID")) }},
		{"build invalid initial state", func() { NewBuilder().Build(State("INVALID")) }},
		{"permit invalid target", func() { NewBuilder().Configure(StatePending).Permit(TriggerApprove, State("INVALID")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("%s should panic", tt.name)
				}
			}()
			tt.fn()
		})
	}
}

func TestApprovalMachine_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		trigger   Trigger
		lastLevel bool
		wantState State
	}{
		{"approve intermediate level stays pending", TriggerApprove, false, StatePending},
		{"approve last level completes", TriggerApprove, true, StateApproved},
		{"reject intermediate level", TriggerReject, false, StateRejected},
		{"reject last level", TriggerReject, true, StateRejected},
	}

	builder := newApprovalBuilder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine := builder.Build(StatePending)
			ctx := withLastLevel(context.Background(), tt.lastLevel)

			if err := machine.Fire(ctx, tt.trigger); err != nil {
				t.Fatalf("Fire() failed: %v", err)
			}
			if machine.State() != tt.wantState {
				t.Errorf("State after Fire() = %v, want %v", machine.State(), tt.wantState)
			}
		})
	}
}

func TestApprovalMachine_TerminalStatesRejectEverything(t *testing.T) {
	builder := newApprovalBuilder()

	for _, state := range []State{StateApproved, StateRejected} {
		for _, trigger := range []Trigger{TriggerApprove, TriggerReject} {
			t.Run(fmt.Sprintf("%s/%s", state, trigger), func(t *testing.T) {
				machine := builder.Build(state)

				if machine.CanFire(trigger) {
					t.Errorf("CanFire(%s) should be false in %s", trigger, state)
				}

				err := machine.Fire(context.Background(), trigger)
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
				}
				if machine.State() != state {
					t.Errorf("State should remain %v, got %v", state, machine.State())
				}
			})
		}
	}
}

func TestStateConfiguration_PermitIf_AllGuardsFail(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).
		PermitIf(TriggerApprove, StateApproved, func(ctx context.Context) bool { return false })

	machine := builder.Build(StatePending)

	err := machine.Fire(context.Background(), TriggerApprove)
	if !errors.Is(err, ErrGuardFailed) {
		t.Fatalf("Fire() error = %v, want %v", err, ErrGuardFailed)
	}
	if machine.State() != StatePending {
		t.Errorf("State should remain %v after failed Fire(), got %v", StatePending, machine.State())
	}
}

func TestStateMachine_PermittedTriggers(t *testing.T) {
	machine := newApprovalBuilder().Build(StatePending)

	triggers := machine.PermittedTriggers()
	if len(triggers) != 2 {
		t.Fatalf("PermittedTriggers() returned %d triggers, want 2", len(triggers))
	}
	if triggers[0] != TriggerApprove || triggers[1] != TriggerReject {
		t.Errorf("PermittedTriggers() = %v, want [APPROVE REJECT]", triggers)
	}

	if got := newApprovalBuilder().Build(StateApproved).PermittedTriggers(); len(got) != 0 {
		t.Errorf("PermittedTriggers() in terminal state = %v, want none", got)
	}
}

func TestStateMachine_BuildIsolatedFromLaterConfiguration(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).Permit(TriggerReject, StateRejected)

	machine := builder.Build(StatePending)
	builder.Configure(StatePending).Permit(TriggerApprove, StateApproved)

	if machine.CanFire(TriggerApprove) {
		t.Error("machine built earlier should not see transitions configured later")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("request:1: %w", ErrLockTimeout), true},
		{ErrIllegalState, false},
		{ErrUnauthorized, false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("request 7: %w", ErrNotFound), "not_found"},
		{fmt.Errorf("%w: no levels", ErrValidation), "validation"},
		{ErrIllegalState, "illegal_state"},
		{ErrUnauthorized, "unauthorized"},
		{fmt.Errorf("request:1: %w", ErrLockTimeout), "lock_timeout"},
		{fmt.Errorf("disk full"), "error"},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
