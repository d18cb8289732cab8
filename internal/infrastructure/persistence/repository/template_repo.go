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

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Create inserts the template and its levels
func (r *TemplateRepository) Create(ctx context.Context, template *entity.ChainTemplate) error {
	now := utc(r.now())
	query := `
		INSERT INTO chain_templates (subject_type, name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		template.SubjectType,
		template.Name,
		template.Active,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: subject type %q already has an active template", domainwf.ErrValidation, template.SubjectType)
		}
		r.logger.Error("Failed to create template", zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	template.ID = id
	template.CreatedAt = now
	template.UpdatedAt = now

	return r.insertLevels(ctx, id, template.Levels)
}

// GetByID retrieves a template with its levels
func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*entity.ChainTemplate, error) {
	query := `
		SELECT id, subject_type, name, active, created_at, updated_at
		FROM chain_templates
		WHERE id = ?
	`

	template, err := r.scanTemplate(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %d: %w", id, domainwf.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if template.Levels, err = r.getLevels(ctx, id); err != nil {
		return nil, err
	}
	return template, nil
}

// GetActiveBySubjectType retrieves the active template of a subject type
func (r *TemplateRepository) GetActiveBySubjectType(ctx context.Context, subjectType string) (*entity.ChainTemplate, error) {
	query := `
		SELECT id, subject_type, name, active, created_at, updated_at
		FROM chain_templates
		WHERE subject_type = ? AND active = 1
	`

	template, err := r.scanTemplate(r.getExecutor(ctx).QueryRowContext(ctx, query, subjectType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active template for %q: %w", subjectType, domainwf.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get active template", zap.String("subject_type", subjectType), zap.Error(err))
		return nil, fmt.Errorf("failed to get active template: %w", err)
	}

	if template.Levels, err = r.getLevels(ctx, template.ID); err != nil {
		return nil, err
	}
	return template, nil
}

// ReplaceLevels deletes every level of the template and inserts the new list.
// Callers run it inside a transaction.
func (r *TemplateRepository) ReplaceLevels(ctx context.Context, templateID int64, levels []entity.ChainLevel) error {
	exec := r.getExecutor(ctx)

	if _, err := exec.ExecContext(ctx, `DELETE FROM chain_levels WHERE template_id = ?`, templateID); err != nil {
		r.logger.Error("Failed to delete levels", zap.Int64("template_id", templateID), zap.Error(err))
		return fmt.Errorf("failed to delete levels: %w", err)
	}

	if err := r.insertLevels(ctx, templateID, levels); err != nil {
		return err
	}

	if _, err := exec.ExecContext(ctx, `UPDATE chain_templates SET updated_at = ? WHERE id = ?`, utc(r.now()), templateID); err != nil {
		return fmt.Errorf("failed to touch template: %w", err)
	}
	return nil
}

// SetActive toggles the active flag
func (r *TemplateRepository) SetActive(ctx context.Context, templateID int64, active bool) error {
	result, err := r.getExecutor(ctx).ExecContext(ctx,
		`UPDATE chain_templates SET active = ?, updated_at = ? WHERE id = ?`,
		active, utc(r.now()), templateID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: another template of this subject type is active", domainwf.ErrValidation)
		}
		return fmt.Errorf("failed to update template: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("template %d: %w", templateID, domainwf.ErrNotFound)
	}
	return nil
}

// List returns all templates with their levels ordered by id
func (r *TemplateRepository) List(ctx context.Context) ([]*entity.ChainTemplate, error) {
	query := `
		SELECT id, subject_type, name, active, created_at, updated_at
		FROM chain_templates
		ORDER BY id
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	var templates []*entity.ChainTemplate
	for rows.Next() {
		template, err := r.scanTemplate(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, template)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, template := range templates {
		if template.Levels, err = r.getLevels(ctx, template.ID); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

func (r *TemplateRepository) insertLevels(ctx context.Context, templateID int64, levels []entity.ChainLevel) error {
	query := `
		INSERT INTO chain_levels (template_id, level_order, name, approver_id, required)
		VALUES (?, ?, ?, ?, ?)
	`

	for i := range levels {
		level := &levels[i]
		result, err := r.getExecutor(ctx).ExecContext(ctx, query,
			templateID,
			level.LevelOrder,
			level.Name,
			level.ApproverID,
			level.Required,
		)
		if err != nil {
			r.logger.Error("Failed to insert level",
				zap.Int64("template_id", templateID),
				zap.Int("level_order", level.LevelOrder),
				zap.Error(err))
			return fmt.Errorf("failed to insert level %d: %w", level.LevelOrder, err)
		}
		if id, err := result.LastInsertId(); err == nil {
			level.ID = id
		}
		level.TemplateID = templateID
	}
	return nil
}

func (r *TemplateRepository) getLevels(ctx context.Context, templateID int64) ([]entity.ChainLevel, error) {
	query := `
		SELECT id, template_id, level_order, name, approver_id, required
		FROM chain_levels
		WHERE template_id = ?
		ORDER BY level_order
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get levels: %w", err)
	}
	defer rows.Close()

	levels := []entity.ChainLevel{}
	for rows.Next() {
		var level entity.ChainLevel
		if err := rows.Scan(
			&level.ID,
			&level.TemplateID,
			&level.LevelOrder,
			&level.Name,
			&level.ApproverID,
			&level.Required,
		); err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *TemplateRepository) scanTemplate(row rowScanner) (*entity.ChainTemplate, error) {
	var template entity.ChainTemplate
	err := row.Scan(
		&template.ID,
		&template.SubjectType,
		&template.Name,
		&template.Active,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (r *TemplateRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateRepository)(nil)
