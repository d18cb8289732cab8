package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/entity"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
	"github.com/garyjia/approval-chain/internal/infrastructure/persistence/sqlite"
)

// DecisionRepository implements port.DecisionRepository
type DecisionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDecisionRepository creates a new decision ledger repository
func NewDecisionRepository(db *sql.DB, logger *zap.Logger) port.DecisionRepository {
	return &DecisionRepository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts one ledger row per level
func (r *DecisionRepository) CreateBatch(ctx context.Context, decisions []*entity.LevelDecision) error {
	query := `
		INSERT INTO level_decisions (
			request_id, level_order, level_name, approver_id, required, decision
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	exec := r.getExecutor(ctx)
	for _, d := range decisions {
		result, err := exec.ExecContext(ctx, query,
			d.RequestID,
			d.LevelOrder,
			d.LevelName,
			d.ApproverID,
			d.Required,
			d.Decision,
		)
		if err != nil {
			r.logger.Error("Failed to create decision",
				zap.Int64("request_id", d.RequestID),
				zap.Int("level_order", d.LevelOrder),
				zap.Error(err))
			return fmt.Errorf("failed to create decision for level %d: %w", d.LevelOrder, err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		d.ID = id
	}
	return nil
}

// GetByRequestID retrieves the ledger ordered by level
func (r *DecisionRepository) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.LevelDecision, error) {
	query := `
		SELECT id, request_id, level_order, level_name, approver_id, required,
			decision, decided_by, decided_at, comment
		FROM level_decisions
		WHERE request_id = ?
		ORDER BY level_order
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to get decisions", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*entity.LevelDecision
	for rows.Next() {
		var d entity.LevelDecision
		var decidedBy, comment sql.NullString
		var decidedAt sql.NullTime

		if err := rows.Scan(
			&d.ID,
			&d.RequestID,
			&d.LevelOrder,
			&d.LevelName,
			&d.ApproverID,
			&d.Required,
			&d.Decision,
			&decidedBy,
			&decidedAt,
			&comment,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		d.DecidedBy = decidedBy.String
		d.DecidedAt = nullTimePtr(decidedAt)
		d.Comment = comment.String
		decisions = append(decisions, &d)
	}

	return decisions, rows.Err()
}

// Record writes the decision of a pending level. The row only changes while
// the request is pending at exactly that level.
func (r *DecisionRepository) Record(ctx context.Context, requestID int64, levelOrder int, decision, decidedBy, comment string, decidedAt time.Time) error {
	query := `
		UPDATE level_decisions
		SET decision = ?, decided_by = ?, decided_at = ?, comment = ?
		WHERE request_id = ? AND level_order = ? AND decision = ?
			AND EXISTS (
				SELECT 1 FROM approval_requests
				WHERE id = ? AND status = ? AND current_level = ?
			)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		decision,
		decidedBy,
		utc(decidedAt),
		nullString(comment),
		requestID,
		levelOrder,
		entity.DecisionPending,
		requestID,
		entity.StatusPending,
		levelOrder,
	)
	if err != nil {
		r.logger.Error("Failed to record decision",
			zap.Int64("request_id", requestID),
			zap.Int("level_order", levelOrder),
			zap.Error(err))
		return fmt.Errorf("failed to record decision: %w", err)
	}

	return expectOneRow(result, "%w: level %d of request %d already decided or not current",
		domainwf.ErrIllegalState, levelOrder, requestID)
}

func (r *DecisionRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

// Verify interface compliance
var _ port.DecisionRepository = (*DecisionRepository)(nil)
