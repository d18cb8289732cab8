package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-chain/internal/application/workflow"
	"github.com/garyjia/approval-chain/internal/domain/entity"
	"github.com/garyjia/approval-chain/internal/domain/event"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
	"github.com/garyjia/approval-chain/internal/infrastructure/lock"
)

type capturePublisher struct {
	mu          sync.Mutex
	completions []event.Completion
}

func (c *capturePublisher) PublishCompletion(ctx context.Context, completion event.Completion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completions = append(c.completions, completion)
	return nil
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.completions)
}

func newSQLiteEngine(t *testing.T) (*testRepos, workflow.WorkflowEngine, *capturePublisher) {
	t.Helper()

	repos := newTestRepos(t)
	template := &entity.ChainTemplate{SubjectType: "quotation", Name: "Quotation", Active: true, Levels: twoLevels()}
	require.NoError(t, repos.templates.Create(context.Background(), template))

	publisher := &capturePublisher{}
	engine := workflow.NewEngine(workflow.Repositories{
		Templates: repos.templates,
		Requests:  repos.requests,
		Decisions: repos.decisions,
		History:   repos.history,
		Outbox:    repos.outbox,
	}, repos.db, lock.NewMemoryLocker(),
		workflow.WithPublisher(publisher),
		workflow.WithLockTimeout(5*time.Second),
	)
	return repos, engine, publisher
}

func TestEngineOnSQLite_ApproveScenario(t *testing.T) {
	repos, engine, publisher := newSQLiteEngine(t)
	ctx := context.Background()

	req, err := engine.Submit(ctx, "quotation", "Q-100", "Quotation for ACME", "sales")
	require.NoError(t, err)

	detail, err := engine.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, detail.Decisions, 2)
	for _, d := range detail.Decisions {
		assert.Equal(t, entity.DecisionPending, d.Decision)
	}

	got, err := engine.Approve(ctx, req.ID, "approverA", "ok")
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentLevel)

	got, err = engine.Approve(ctx, req.ID, "approverB", "")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, got.Status)
	assert.Equal(t, 1, publisher.count())

	pending, err := repos.outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = engine.Reject(ctx, req.ID, "approverB", "late", "")
	assert.ErrorIs(t, err, domainwf.ErrIllegalState)

	history, err := engine.GetHistory(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, entity.ActionSubmitted, history[0].Action)
	assert.Equal(t, entity.ActionApproved, history[2].Action)
}

func TestEngineOnSQLite_RejectScenario(t *testing.T) {
	_, engine, publisher := newSQLiteEngine(t)
	ctx := context.Background()

	req, err := engine.Submit(ctx, "quotation", "Q-200", "", "sales")
	require.NoError(t, err)

	got, err := engine.Reject(ctx, req.ID, "approverA", "budget", "over limit")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, got.Status)

	detail, err := engine.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DecisionRejected, detail.Decisions[0].Decision)
	assert.Equal(t, entity.DecisionPending, detail.Decisions[1].Decision)

	require.Equal(t, 1, publisher.count())
	assert.Equal(t, "budget", publisher.completions[0].Reason)

	history, err := engine.GetHistory(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "budget: over limit", history[len(history)-1].Comment)
}

func TestEngineOnSQLite_ConcurrentApprove(t *testing.T) {
	_, engine, _ := newSQLiteEngine(t)
	ctx := context.Background()

	req, err := engine.Submit(ctx, "quotation", "Q-300", "", "sales")
	require.NoError(t, err)

	const callers = 6
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Approve(ctx, req.ID, "approverA", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, illegal int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domainwf.ErrIllegalState):
			illegal++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, illegal)

	detail, err := engine.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.Request.CurrentLevel)
}

func TestEngineOnSQLite_SubmitValidationLeavesNoRows(t *testing.T) {
	repos, engine, _ := newSQLiteEngine(t)
	ctx := context.Background()

	_, err := engine.Submit(ctx, "invoice", "I-1", "", "sales")
	assert.ErrorIs(t, err, domainwf.ErrValidation)

	var count int
	require.NoError(t, repos.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM approval_requests`).Scan(&count))
	assert.Zero(t, count)
}

func TestEngineOnSQLite_ReadsDuringOpenWrite(t *testing.T) {
	repos, engine, _ := newSQLiteEngine(t)
	ctx := context.Background()

	req, err := engine.Submit(ctx, "quotation", "Q-300", "", "sales")
	require.NoError(t, err)

	tx, err := repos.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `UPDATE approval_requests SET current_level = 2 WHERE id = ?`, req.ID)
	require.NoError(t, err)

	start := time.Now()
	detail, err := engine.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, detail.Request.CurrentLevel, "uncommitted write must not be visible")

	history, err := engine.GetHistory(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Less(t, time.Since(start), time.Second, "reads must not queue behind the writer")
}
