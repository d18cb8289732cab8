package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/entity"
	"github.com/garyjia/approval-chain/internal/infrastructure/persistence/sqlite"
)

// ProcessedCauseRepository implements port.ProcessedCauseRepository
type ProcessedCauseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProcessedCauseRepository creates a new processed cause repository
func NewProcessedCauseRepository(db *sql.DB, logger *zap.Logger) port.ProcessedCauseRepository {
	return &ProcessedCauseRepository{
		db:     db,
		logger: logger,
	}
}

// MarkProcessed inserts the cause and reports whether it was not seen before
func (r *ProcessedCauseRepository) MarkProcessed(ctx context.Context, cause *entity.ProcessedCause) (bool, error) {
	query := `
		INSERT INTO processed_causes (consumer, cause_type, cause_id, processed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(consumer, cause_type, cause_id) DO NOTHING
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		cause.Consumer,
		cause.CauseType,
		cause.CauseID,
		utc(cause.ProcessedAt),
	)
	if err != nil {
		r.logger.Error("Failed to record processed cause",
			zap.String("consumer", cause.Consumer),
			zap.String("cause_id", cause.CauseID),
			zap.Error(err))
		return false, fmt.Errorf("failed to record processed cause: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// Verify interface compliance
var _ port.ProcessedCauseRepository = (*ProcessedCauseRepository)(nil)
