package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/garyjia/approval-chain/internal/domain/entity"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
)

type mockTemplateRepo struct {
	templates map[int64]*entity.ChainTemplate
	nextID    int64

	replaceErr   error
	replaceCalls int
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{templates: make(map[int64]*entity.ChainTemplate)}
}

func (m *mockTemplateRepo) Create(ctx context.Context, t *entity.ChainTemplate) error {
	m.nextID++
	t.ID = m.nextID
	for i := range t.Levels {
		t.Levels[i].TemplateID = t.ID
	}
	cp := *t
	cp.Levels = append([]entity.ChainLevel(nil), t.Levels...)
	m.templates[t.ID] = &cp
	return nil
}

func (m *mockTemplateRepo) GetByID(ctx context.Context, id int64) (*entity.ChainTemplate, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %d: %w", id, domainwf.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *mockTemplateRepo) GetActiveBySubjectType(ctx context.Context, subjectType string) (*entity.ChainTemplate, error) {
	for _, t := range m.templates {
		if t.SubjectType == subjectType && t.Active {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("template for %s: %w", subjectType, domainwf.ErrNotFound)
}

func (m *mockTemplateRepo) ReplaceLevels(ctx context.Context, templateID int64, levels []entity.ChainLevel) error {
	m.replaceCalls++
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.templates[templateID].Levels = append([]entity.ChainLevel(nil), levels...)
	return nil
}

func (m *mockTemplateRepo) SetActive(ctx context.Context, templateID int64, active bool) error {
	m.templates[templateID].Active = active
	return nil
}

func (m *mockTemplateRepo) List(ctx context.Context) ([]*entity.ChainTemplate, error) {
	out := make([]*entity.ChainTemplate, 0, len(m.templates))
	for id := int64(1); id <= m.nextID; id++ {
		if t, ok := m.templates[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

type mockTxManager struct {
	calls int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

func levels(approvers ...string) []entity.ChainLevel {
	out := make([]entity.ChainLevel, len(approvers))
	for i, a := range approvers {
		out[i] = entity.ChainLevel{LevelOrder: i + 1, Name: fmt.Sprintf("L%d", i+1), ApproverID: a, Required: true}
	}
	return out
}

func TestCatalogCreateTemplate(t *testing.T) {
	repo := newMockTemplateRepo()
	svc := NewCatalogService(repo, &mockTxManager{}, &mockLogger{})
	ctx := context.Background()

	// Levels given out of order are stored sorted
	input := []entity.ChainLevel{
		{LevelOrder: 2, Name: "Finance", ApproverID: "bob", Required: true},
		{LevelOrder: 1, ApproverID: "alice"},
	}
	created, err := svc.CreateTemplate(ctx, "quotation", "Quotation chain", input)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == 0 || !created.Active {
		t.Errorf("unexpected template %+v", created)
	}
	if created.Levels[0].ApproverID != "alice" || created.Levels[0].Name != "Level 1" {
		t.Errorf("unexpected first level %+v", created.Levels[0])
	}

	got, err := svc.GetTemplate(ctx, "quotation")
	if err != nil || got.ID != created.ID {
		t.Fatalf("GetTemplate = %+v, %v", got, err)
	}

	_, err = svc.CreateTemplate(ctx, "quotation", "Second", levels("carol"))
	if !errors.Is(err, domainwf.ErrValidation) {
		t.Errorf("expected ErrValidation for second active template, got %v", err)
	}

	if err := svc.Deactivate(ctx, created.ID); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if _, err := svc.GetTemplate(ctx, "quotation"); !errors.Is(err, domainwf.ErrNotFound) {
		t.Errorf("expected ErrNotFound after deactivate, got %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, "quotation", "Second", levels("carol")); err != nil {
		t.Errorf("create after deactivate failed: %v", err)
	}

	all, err := svc.ListTemplates(ctx)
	if err != nil || len(all) != 2 {
		t.Errorf("ListTemplates = %d, %v", len(all), err)
	}
}

func TestCatalogCreateTemplateValidation(t *testing.T) {
	tests := []struct {
		name        string
		subjectType string
		title       string
		levels      []entity.ChainLevel
	}{
		{"empty subject type", "", "x", levels("a")},
		{"empty name", "quotation", " ", levels("a")},
		{"no levels", "quotation", "x", nil},
		{"gap in orders", "quotation", "x", []entity.ChainLevel{{LevelOrder: 1, ApproverID: "a"}, {LevelOrder: 3, ApproverID: "b"}}},
		{"missing approver", "quotation", "x", []entity.ChainLevel{{LevelOrder: 1, ApproverID: ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockTemplateRepo()
			svc := NewCatalogService(repo, &mockTxManager{}, &mockLogger{})

			_, err := svc.CreateTemplate(context.Background(), tt.subjectType, tt.title, tt.levels)
			if !errors.Is(err, domainwf.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if len(repo.templates) != 0 {
				t.Error("nothing should be stored")
			}
		})
	}
}

func TestCatalogUpdateLevels(t *testing.T) {
	t.Run("full replace in one transaction", func(t *testing.T) {
		repo := newMockTemplateRepo()
		tx := &mockTxManager{}
		svc := NewCatalogService(repo, tx, &mockLogger{})
		ctx := context.Background()

		created, err := svc.CreateTemplate(ctx, "po", "PO chain", levels("a", "b", "c"))
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		txBefore := tx.calls

		updated, err := svc.UpdateLevels(ctx, created.ID, levels("x"))
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if len(updated.Levels) != 1 || updated.Levels[0].ApproverID != "x" || updated.Levels[0].TemplateID != created.ID {
			t.Errorf("unexpected levels %+v", updated.Levels)
		}
		if tx.calls-txBefore != 1 {
			t.Errorf("expected 1 transaction, got %d", tx.calls-txBefore)
		}
	})

	t.Run("validation happens before any write", func(t *testing.T) {
		repo := newMockTemplateRepo()
		svc := NewCatalogService(repo, &mockTxManager{}, &mockLogger{})
		created, _ := svc.CreateTemplate(context.Background(), "po", "PO chain", levels("a"))

		_, err := svc.UpdateLevels(context.Background(), created.ID, []entity.ChainLevel{{LevelOrder: 2, ApproverID: "a"}})
		if !errors.Is(err, domainwf.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if repo.replaceCalls != 0 {
			t.Error("ReplaceLevels must not be called for invalid input")
		}
	})

	t.Run("unknown template", func(t *testing.T) {
		svc := NewCatalogService(newMockTemplateRepo(), &mockTxManager{}, &mockLogger{})
		_, err := svc.UpdateLevels(context.Background(), 42, levels("a"))
		if !errors.Is(err, domainwf.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("store error is returned", func(t *testing.T) {
		repo := newMockTemplateRepo()
		repo.replaceErr = errors.New("disk full")
		svc := NewCatalogService(repo, &mockTxManager{}, &mockLogger{})
		created, _ := svc.CreateTemplate(context.Background(), "po", "PO chain", levels("a"))

		if _, err := svc.UpdateLevels(context.Background(), created.ID, levels("b")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestCatalogDeactivateUnknown(t *testing.T) {
	svc := NewCatalogService(newMockTemplateRepo(), &mockTxManager{}, &mockLogger{})
	if err := svc.Deactivate(context.Background(), 7); !errors.Is(err, domainwf.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
