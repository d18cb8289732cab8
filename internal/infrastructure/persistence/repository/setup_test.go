package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/approval-chain/migrations"
	"github.com/garyjia/approval-chain/pkg/database"
)

// newTestDB opens a migrated sqlite file in a temp dir with a separate read pool
func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()

	logger := zap.NewNop()
	cfg := database.Config{Path: filepath.Join(t.TempDir(), "approval.db")}
	db, err := database.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = database.NewMigrator(db, logger).Run(migrations.FS)
	require.NoError(t, err)

	reader, err := database.NewReader(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	return sqlite.NewDB(db.DB, logger, sqlite.WithReadPool(reader.DB))
}

type testRepos struct {
	db        *sqlite.DB
	templates port.TemplateRepository
	requests  port.RequestRepository
	decisions port.DecisionRepository
	history   port.HistoryRepository
	outbox    port.OutboxRepository
	causes    port.ProcessedCauseRepository
}

func newTestRepos(t *testing.T) *testRepos {
	t.Helper()

	db := newTestDB(t)
	logger := zap.NewNop()
	return &testRepos{
		db:        db,
		templates: NewTemplateRepository(db.DB, logger),
		requests:  NewRequestRepository(db.DB, logger),
		decisions: NewDecisionRepository(db.DB, logger),
		history:   NewHistoryRepository(db.DB, logger),
		outbox:    NewOutboxRepository(db.DB, logger),
		causes:    NewProcessedCauseRepository(db.DB, logger),
	}
}
