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

// HistoryRepository implements port.HistoryRepository.
// The table rejects UPDATE and DELETE through triggers.
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a history entry
func (r *HistoryRepository) Create(ctx context.Context, entry *entity.HistoryEntry) error {
	query := `
		INSERT INTO approval_history (
			request_id, action, actor_id, level_order, comment, timestamp
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	var level sql.NullInt64
	if entry.LevelOrder != nil {
		level = sql.NullInt64{Int64: int64(*entry.LevelOrder), Valid: true}
	}

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		entry.RequestID,
		entry.Action,
		entry.ActorID,
		level,
		nullString(entry.Comment),
		utc(entry.Timestamp),
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.Error(err))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	return nil
}

// GetByRequestID retrieves all entries of a request ordered by timestamp, then id
func (r *HistoryRepository) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.HistoryEntry, error) {
	query := `
		SELECT id, request_id, action, actor_id, level_order, comment, timestamp
		FROM approval_history
		WHERE request_id = ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		r.logger.Error("Failed to get history by request ID", zap.Int64("request_id", requestID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	records := []*entity.HistoryEntry{}
	for rows.Next() {
		var record entity.HistoryEntry
		var level sql.NullInt64
		var comment sql.NullString

		err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&record.Action,
			&record.ActorID,
			&level,
			&comment,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}

		if level.Valid {
			l := int(level.Int64)
			record.LevelOrder = &l
		}
		record.Comment = comment.String
		records = append(records, &record)
	}

	return records, rows.Err()
}

func (r *HistoryRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
