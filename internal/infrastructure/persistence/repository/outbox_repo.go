package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/event"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
	"github.com/garyjia/approval-chain/internal/infrastructure/persistence/sqlite"
)

// OutboxRepository implements port.OutboxRepository on completion_outbox
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOutboxRepository creates a new completion outbox repository
func NewOutboxRepository(db *sql.DB, logger *zap.Logger) port.OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue stores the completion. A second enqueue for the same request is ignored.
func (r *OutboxRepository) Enqueue(ctx context.Context, completion event.Completion) error {
	payload, err := json.Marshal(completion)
	if err != nil {
		return fmt.Errorf("failed to encode completion: %w", err)
	}

	query := `
		INSERT INTO completion_outbox (request_id, payload, published, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(request_id) DO NOTHING
	`

	if _, err := r.getExecutor(ctx).ExecContext(ctx, query,
		completion.RequestID,
		string(payload),
		utc(completion.OccurredAt),
	); err != nil {
		r.logger.Error("Failed to enqueue completion", zap.Int64("request_id", completion.RequestID), zap.Error(err))
		return fmt.Errorf("failed to enqueue completion: %w", err)
	}
	return nil
}

// MarkPublished flags the completion of a request as delivered
func (r *OutboxRepository) MarkPublished(ctx context.Context, requestID int64, publishedAt time.Time) error {
	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE completion_outbox SET published = 1, published_at = ? WHERE request_id = ?`,
		utc(publishedAt), requestID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark completion published: %w", err)
	}
	return expectOneRow(result, "outbox entry for request %d: %w", requestID, domainwf.ErrNotFound)
}

// ListUnpublished returns pending completions oldest first
func (r *OutboxRepository) ListUnpublished(ctx context.Context, limit int) ([]event.Completion, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT payload
		FROM completion_outbox
		WHERE published = 0
		ORDER BY id
		LIMIT ?
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list pending completions", zap.Error(err))
		return nil, fmt.Errorf("failed to list pending completions: %w", err)
	}
	defer rows.Close()

	var completions []event.Completion
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}

		var c event.Completion
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("failed to decode completion: %w", err)
		}
		completions = append(completions, c)
	}

	return completions, rows.Err()
}

// IsPublished reads the delivery flag of a request's completion
func (r *OutboxRepository) IsPublished(ctx context.Context, requestID int64) (bool, error) {
	var published bool
	err := r.getExecutor(ctx).QueryRowContext(ctx,
		`SELECT published FROM completion_outbox WHERE request_id = ?`, requestID,
	).Scan(&published)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("outbox entry for request %d: %w", requestID, domainwf.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read outbox entry: %w", err)
	}
	return published, nil
}

func (r *OutboxRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

// Verify interface compliance
var _ port.OutboxRepository = (*OutboxRepository)(nil)
