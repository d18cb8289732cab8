package workflow

import (
	"context"

	"github.com/garyjia/approval-chain/internal/domain/entity"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
)

// BuildApprovalStateMachine creates a state machine positioned at the request's status.
// APPROVE on the last level completes the request; on any other level it stays PENDING.
func BuildApprovalStateMachine(req *entity.ApprovalRequest) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	isLast := func(ctx context.Context) bool { return req.IsLastLevel() }
	notLast := func(ctx context.Context) bool { return !req.IsLastLevel() }

	builder.Configure(domainwf.StatePending).
		PermitIf(domainwf.TriggerApprove, domainwf.StateApproved, isLast).
		PermitIf(domainwf.TriggerApprove, domainwf.StatePending, notLast).
		Permit(domainwf.TriggerReject, domainwf.StateRejected)

	// APPROVED and REJECTED are terminal states - no outgoing transitions

	return builder.Build(domainwf.State(req.Status))
}
