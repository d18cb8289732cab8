package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/entity"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// CatalogService manages chain templates.
// Requests copy levels at submission, so edits never touch in-flight requests.
type CatalogService interface {
	// GetTemplate returns the active template for subjectType
	GetTemplate(ctx context.Context, subjectType string) (*entity.ChainTemplate, error)
	GetTemplateByID(ctx context.Context, id int64) (*entity.ChainTemplate, error)
	CreateTemplate(ctx context.Context, subjectType, name string, levels []entity.ChainLevel) (*entity.ChainTemplate, error)

	// UpdateLevels replaces the whole level list in one transaction
	UpdateLevels(ctx context.Context, templateID int64, levels []entity.ChainLevel) (*entity.ChainTemplate, error)
	Deactivate(ctx context.Context, templateID int64) error
	ListTemplates(ctx context.Context) ([]*entity.ChainTemplate, error)
}

type catalogServiceImpl struct {
	templateRepo port.TemplateRepository
	txManager    port.TransactionManager
	logger       Logger
}

// NewCatalogService creates a new CatalogService
func NewCatalogService(
	templateRepo port.TemplateRepository,
	txManager port.TransactionManager,
	logger Logger,
) CatalogService {
	return &catalogServiceImpl{
		templateRepo: templateRepo,
		txManager:    txManager,
		logger:       logger,
	}
}

func (s *catalogServiceImpl) GetTemplate(ctx context.Context, subjectType string) (*entity.ChainTemplate, error) {
	return s.templateRepo.GetActiveBySubjectType(ctx, subjectType)
}

func (s *catalogServiceImpl) GetTemplateByID(ctx context.Context, id int64) (*entity.ChainTemplate, error) {
	return s.templateRepo.GetByID(ctx, id)
}

// CreateTemplate stores a new active template. A subject type has at most one active template.
func (s *catalogServiceImpl) CreateTemplate(ctx context.Context, subjectType, name string, levels []entity.ChainLevel) (*entity.ChainTemplate, error) {
	if strings.TrimSpace(subjectType) == "" {
		return nil, fmt.Errorf("%w: subject type is required", domainwf.ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: template name is required", domainwf.ErrValidation)
	}
	if err := entity.ValidateLevels(levels); err != nil {
		return nil, err
	}

	template := &entity.ChainTemplate{
		SubjectType: subjectType,
		Name:        name,
		Active:      true,
		Levels:      normalizeLevels(0, levels),
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.templateRepo.GetActiveBySubjectType(txCtx, subjectType)
		switch {
		case err == nil:
			return fmt.Errorf("%w: subject type %q already has active template %d",
				domainwf.ErrValidation, subjectType, existing.ID)
		case !errors.Is(err, domainwf.ErrNotFound):
			return fmt.Errorf("failed to check active template: %w", err)
		}

		return s.templateRepo.Create(txCtx, template)
	})
	if err != nil {
		s.logger.Error("Failed to create template", "subject_type", subjectType, "error", err)
		return nil, err
	}

	s.logger.Info("Template created",
		"template_id", template.ID,
		"subject_type", subjectType,
		"levels", len(template.Levels),
	)
	return template, nil
}

func (s *catalogServiceImpl) UpdateLevels(ctx context.Context, templateID int64, levels []entity.ChainLevel) (*entity.ChainTemplate, error) {
	if err := entity.ValidateLevels(levels); err != nil {
		return nil, err
	}

	var updated *entity.ChainTemplate
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.templateRepo.GetByID(txCtx, templateID); err != nil {
			return err
		}
		if err := s.templateRepo.ReplaceLevels(txCtx, templateID, normalizeLevels(templateID, levels)); err != nil {
			return fmt.Errorf("failed to replace levels: %w", err)
		}

		var err error
		updated, err = s.templateRepo.GetByID(txCtx, templateID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Template levels replaced", "template_id", templateID, "levels", len(levels))
	return updated, nil
}

// Deactivate hides the template from new submissions
func (s *catalogServiceImpl) Deactivate(ctx context.Context, templateID int64) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.templateRepo.GetByID(txCtx, templateID); err != nil {
			return err
		}
		return s.templateRepo.SetActive(txCtx, templateID, false)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Template deactivated", "template_id", templateID)
	return nil
}

func (s *catalogServiceImpl) ListTemplates(ctx context.Context) ([]*entity.ChainTemplate, error) {
	return s.templateRepo.List(ctx)
}

// normalizeLevels returns a sorted copy bound to templateID with store-assigned fields cleared
func normalizeLevels(templateID int64, levels []entity.ChainLevel) []entity.ChainLevel {
	out := make([]entity.ChainLevel, len(levels))
	for i, level := range levels {
		level.ID = 0
		level.TemplateID = templateID
		level.Name = strings.TrimSpace(level.Name)
		if level.Name == "" {
			level.Name = fmt.Sprintf("Level %d", level.LevelOrder)
		}
		out[i] = level
	}
	entity.SortLevels(out)
	return out
}
