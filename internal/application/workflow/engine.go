package workflow

import (
	"context"

	"github.com/garyjia/approval-chain/internal/domain/entity"
)

// WorkflowEngine coordinates approval requests through their chain
type WorkflowEngine interface {
	// Submit creates a request from the active template of subjectType in state PENDING(1)
	Submit(ctx context.Context, subjectType, subjectID, description, submitterID string) (*entity.ApprovalRequest, error)

	// Approve records actorID's approval of the current level
	Approve(ctx context.Context, requestID int64, actorID, comment string) (*entity.ApprovalRequest, error)

	// Reject records actorID's rejection of the current level and ends the request
	Reject(ctx context.Context, requestID int64, actorID, reason, comment string) (*entity.ApprovalRequest, error)

	// GetRequest returns the request and its decision ledger
	GetRequest(ctx context.Context, requestID int64) (*entity.RequestDetail, error)

	// GetHistory returns the audit trail ordered by timestamp
	GetHistory(ctx context.Context, requestID int64) ([]*entity.HistoryEntry, error)

	// RedeliverPending publishes completions whose earlier delivery failed.
	// Returns the number delivered.
	RedeliverPending(ctx context.Context, limit int) (int, error)
}
