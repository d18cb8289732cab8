package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/entity"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
	"github.com/garyjia/approval-chain/internal/infrastructure/persistence/sqlite"
)

const requestColumns = `
	id, subject_type, subject_id, subject_description, template_id,
	current_level, total_levels, status, submitter_id, submitted_at, completed_at
`

// RequestRepository implements port.RequestRepository
type RequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sql.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new approval request
func (r *RequestRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests (
			subject_type, subject_id, subject_description, template_id,
			current_level, total_levels, status, submitter_id, submitted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		req.SubjectType,
		req.SubjectID,
		req.SubjectDescription,
		req.TemplateID,
		req.CurrentLevel,
		req.TotalLevels,
		req.Status,
		req.SubmitterID,
		utc(req.SubmittedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create request", zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	req.ID = id
	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = ?`

	req, err := scanRequest(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %d: %w", id, domainwf.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get request", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// FindPendingBySubject returns the pending request of a subject, or nil
func (r *RequestRepository) FindPendingBySubject(ctx context.Context, subjectType, subjectID string) (*entity.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE subject_type = ? AND subject_id = ? AND status = ?
		ORDER BY id DESC
		LIMIT 1
	`

	req, err := scanRequest(r.getExecutor(ctx).QueryRowContext(ctx, query, subjectType, subjectID, entity.StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending request: %w", err)
	}
	return req, nil
}

// AdvanceLevel moves a pending request from fromLevel to the next level
func (r *RequestRepository) AdvanceLevel(ctx context.Context, id int64, fromLevel int) error {
	query := `
		UPDATE approval_requests
		SET current_level = current_level + 1
		WHERE id = ? AND status = ? AND current_level = ? AND current_level < total_levels
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query, id, entity.StatusPending, fromLevel)
	if err != nil {
		r.logger.Error("Failed to advance request", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to advance request: %w", err)
	}
	return expectOneRow(result, "%w: request %d is not pending at level %d", domainwf.ErrIllegalState, id, fromLevel)
}

// Complete moves a pending request to a terminal status
func (r *RequestRepository) Complete(ctx context.Context, id int64, status string, completedAt time.Time) error {
	query := `
		UPDATE approval_requests
		SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query, status, utc(completedAt), id, entity.StatusPending)
	if err != nil {
		r.logger.Error("Failed to complete request", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to complete request: %w", err)
	}
	return expectOneRow(result, "%w: request %d is no longer pending", domainwf.ErrIllegalState, id)
}

func (r *RequestRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

func scanRequest(row rowScanner) (*entity.ApprovalRequest, error) {
	var req entity.ApprovalRequest
	var completedAt sql.NullTime

	err := row.Scan(
		&req.ID,
		&req.SubjectType,
		&req.SubjectID,
		&req.SubjectDescription,
		&req.TemplateID,
		&req.CurrentLevel,
		&req.TotalLevels,
		&req.Status,
		&req.SubmitterID,
		&req.SubmittedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	req.CompletedAt = nullTimePtr(completedAt)
	return &req, nil
}

// expectOneRow returns the formatted error when the statement changed no row
func expectOneRow(result sql.Result, format string, args ...interface{}) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf(format, args...)
	}
	return nil
}

// Verify interface compliance
var _ port.RequestRepository = (*RequestRepository)(nil)
