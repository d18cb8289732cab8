package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-chain/internal/domain/entity"
	"github.com/garyjia/approval-chain/internal/domain/event"
)

// TemplateRepository defines persistence operations for ChainTemplate
type TemplateRepository interface {
	// Create inserts the template and its levels
	Create(ctx context.Context, template *entity.ChainTemplate) error

	// GetByID returns the template with levels sorted by order, or ErrNotFound
	GetByID(ctx context.Context, id int64) (*entity.ChainTemplate, error)

	// GetActiveBySubjectType returns the active template for a subject type, or ErrNotFound
	GetActiveBySubjectType(ctx context.Context, subjectType string) (*entity.ChainTemplate, error)

	// ReplaceLevels deletes all levels of the template and inserts the given ones
	ReplaceLevels(ctx context.Context, templateID int64, levels []entity.ChainLevel) error

	// SetActive toggles the active flag
	SetActive(ctx context.Context, templateID int64, active bool) error

	// List returns all templates ordered by id
	List(ctx context.Context) ([]*entity.ChainTemplate, error)
}

// RequestRepository defines persistence operations for ApprovalRequest
type RequestRepository interface {
	Create(ctx context.Context, request *entity.ApprovalRequest) error

	// GetByID returns the request or ErrNotFound
	GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error)

	// FindPendingBySubject returns the pending request of a subject, or nil when none exists
	FindPendingBySubject(ctx context.Context, subjectType, subjectID string) (*entity.ApprovalRequest, error)

	// AdvanceLevel moves a pending request from fromLevel to fromLevel+1.
	// Returns ErrIllegalState when the row is not at fromLevel.
	AdvanceLevel(ctx context.Context, id int64, fromLevel int) error

	// Complete moves a pending request to a terminal status.
	// Returns ErrIllegalState when the row is no longer pending.
	Complete(ctx context.Context, id int64, status string, completedAt time.Time) error
}

// DecisionRepository defines persistence operations for the decision ledger
type DecisionRepository interface {
	// CreateBatch inserts one row per level
	CreateBatch(ctx context.Context, decisions []*entity.LevelDecision) error

	// GetByRequestID returns the ledger ordered by level
	GetByRequestID(ctx context.Context, requestID int64) ([]*entity.LevelDecision, error)

	// Record writes the decision of a still-pending level.
	// Returns ErrIllegalState when the level was already decided.
	Record(ctx context.Context, requestID int64, levelOrder int, decision, decidedBy, comment string, decidedAt time.Time) error
}

// HistoryRepository defines persistence operations for HistoryEntry
type HistoryRepository interface {
	Create(ctx context.Context, entry *entity.HistoryEntry) error

	// GetByRequestID returns entries ordered by timestamp, then id
	GetByRequestID(ctx context.Context, requestID int64) ([]*entity.HistoryEntry, error)
}

// OutboxRepository stores completion events written with the terminal transition
type OutboxRepository interface {
	// Enqueue records a completion; one row per request
	Enqueue(ctx context.Context, completion event.Completion) error

	// MarkPublished flags the completion of a request as delivered
	MarkPublished(ctx context.Context, requestID int64, publishedAt time.Time) error

	// ListUnpublished returns completions whose delivery has not been confirmed, oldest first
	ListUnpublished(ctx context.Context, limit int) ([]event.Completion, error)

	// IsPublished reports whether the completion of a request has been delivered
	IsPublished(ctx context.Context, requestID int64) (bool, error)
}

// ProcessedCauseRepository records which causes a consumer has already applied
type ProcessedCauseRepository interface {
	// MarkProcessed inserts the record and reports whether it was new
	MarkProcessed(ctx context.Context, cause *entity.ProcessedCause) (bool, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadTransactionManager runs read-only work on a consistent snapshot that does
// not queue behind writers. Optional; callers fall back to WithTransaction.
type ReadTransactionManager interface {
	WithReadTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
