package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/entity"
	"github.com/garyjia/approval-chain/internal/domain/event"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
)

// memStore is an in-memory backing for every repository used by the engine.
// memTx snapshots it before a transaction and restores the snapshot on error.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	templates map[int64]entity.ChainTemplate
	requests  map[int64]entity.ApprovalRequest
	decisions map[int64][]entity.LevelDecision
	history   []entity.HistoryEntry
	outbox    map[int64]outboxRow

	historyErr error
}

type outboxRow struct {
	completion event.Completion
	published  bool
	seq        int64
}

func newMemStore() *memStore {
	return &memStore{
		templates: make(map[int64]entity.ChainTemplate),
		requests:  make(map[int64]entity.ApprovalRequest),
		decisions: make(map[int64][]entity.LevelDecision),
		outbox:    make(map[int64]outboxRow),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

type memSnapshot struct {
	nextID    int64
	templates map[int64]entity.ChainTemplate
	requests  map[int64]entity.ApprovalRequest
	decisions map[int64][]entity.LevelDecision
	history   []entity.HistoryEntry
	outbox    map[int64]outboxRow
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memSnapshot{
		nextID:    s.nextID,
		templates: make(map[int64]entity.ChainTemplate, len(s.templates)),
		requests:  make(map[int64]entity.ApprovalRequest, len(s.requests)),
		decisions: make(map[int64][]entity.LevelDecision, len(s.decisions)),
		history:   append([]entity.HistoryEntry(nil), s.history...),
		outbox:    make(map[int64]outboxRow, len(s.outbox)),
	}
	for k, v := range s.templates {
		v.Levels = append([]entity.ChainLevel(nil), v.Levels...)
		snap.templates[k] = v
	}
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	for k, v := range s.decisions {
		snap.decisions[k] = append([]entity.LevelDecision(nil), v...)
	}
	for k, v := range s.outbox {
		snap.outbox[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID = snap.nextID
	s.templates = snap.templates
	s.requests = snap.requests
	s.decisions = snap.decisions
	s.history = snap.history
	s.outbox = snap.outbox
}

func (s *memStore) repositories() Repositories {
	return Repositories{
		Templates: &memTemplateRepo{s},
		Requests:  &memRequestRepo{s},
		Decisions: &memDecisionRepo{s},
		History:   &memHistoryRepo{s},
		Outbox:    &memOutboxRepo{s},
	}
}

func (s *memStore) addTemplate(subjectType string, approvers ...string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	levels := make([]entity.ChainLevel, 0, len(approvers))
	for i, approver := range approvers {
		levels = append(levels, entity.ChainLevel{
			TemplateID: id,
			LevelOrder: i + 1,
			Name:       fmt.Sprintf("L%d", i+1),
			ApproverID: approver,
			Required:   true,
		})
	}
	s.templates[id] = entity.ChainTemplate{ID: id, SubjectType: subjectType, Name: subjectType, Active: true, Levels: levels}
	return id
}

func (s *memStore) request(id int64) entity.ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

func (s *memStore) ledger(id int64) []entity.LevelDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.LevelDecision(nil), s.decisions[id]...)
}

func (s *memStore) historyFor(id int64) []entity.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.HistoryEntry
	for _, h := range s.history {
		if h.RequestID == id {
			out = append(out, h)
		}
	}
	return out
}

func (s *memStore) outboxRow(id int64) (outboxRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[id]
	return row, ok
}

func (s *memStore) counts() (requests, decisions, history, outbox int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.decisions {
		decisions += len(d)
	}
	return len(s.requests), decisions, len(s.history), len(s.outbox)
}

// memTx serializes transactions and rolls the store back on error
type memTx struct {
	mu    sync.Mutex
	store *memStore
}

func (m *memTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.store.snapshot()
	if err := fn(ctx); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

type memTemplateRepo struct{ s *memStore }

func (r *memTemplateRepo) Create(ctx context.Context, t *entity.ChainTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.ID = r.s.id()
	r.s.templates[t.ID] = *t
	return nil
}

func (r *memTemplateRepo) GetByID(ctx context.Context, id int64) (*entity.ChainTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %d: %w", id, domainwf.ErrNotFound)
	}
	t.Levels = append([]entity.ChainLevel(nil), t.Levels...)
	return &t, nil
}

func (r *memTemplateRepo) GetActiveBySubjectType(ctx context.Context, subjectType string) (*entity.ChainTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.templates {
		if t.SubjectType == subjectType && t.Active {
			t.Levels = append([]entity.ChainLevel(nil), t.Levels...)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("template for %s: %w", subjectType, domainwf.ErrNotFound)
}

func (r *memTemplateRepo) ReplaceLevels(ctx context.Context, templateID int64, levels []entity.ChainLevel) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.templates[templateID]
	t.Levels = append([]entity.ChainLevel(nil), levels...)
	r.s.templates[templateID] = t
	return nil
}

func (r *memTemplateRepo) SetActive(ctx context.Context, templateID int64, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.templates[templateID]
	t.Active = active
	r.s.templates[templateID] = t
	return nil
}

func (r *memTemplateRepo) List(ctx context.Context) ([]*entity.ChainTemplate, error) {
	return nil, nil
}

type memRequestRepo struct{ s *memStore }

func (r *memRequestRepo) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req.ID = r.s.id()
	r.s.requests[req.ID] = *req
	return nil
}

func (r *memRequestRepo) GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %d: %w", id, domainwf.ErrNotFound)
	}
	return &req, nil
}

func (r *memRequestRepo) FindPendingBySubject(ctx context.Context, subjectType, subjectID string) (*entity.ApprovalRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, req := range r.s.requests {
		if req.SubjectType == subjectType && req.SubjectID == subjectID && req.Status == entity.StatusPending {
			return &req, nil
		}
	}
	return nil, nil
}

func (r *memRequestRepo) AdvanceLevel(ctx context.Context, id int64, fromLevel int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req := r.s.requests[id]
	if req.Status != entity.StatusPending || req.CurrentLevel != fromLevel {
		return fmt.Errorf("%w: request %d not at level %d", domainwf.ErrIllegalState, id, fromLevel)
	}
	req.CurrentLevel++
	r.s.requests[id] = req
	return nil
}

func (r *memRequestRepo) Complete(ctx context.Context, id int64, status string, completedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req := r.s.requests[id]
	if req.Status != entity.StatusPending {
		return fmt.Errorf("%w: request %d is %s", domainwf.ErrIllegalState, id, req.Status)
	}
	req.Status = status
	req.CompletedAt = &completedAt
	r.s.requests[id] = req
	return nil
}

type memDecisionRepo struct{ s *memStore }

func (r *memDecisionRepo) CreateBatch(ctx context.Context, decisions []*entity.LevelDecision) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range decisions {
		d.ID = r.s.id()
		r.s.decisions[d.RequestID] = append(r.s.decisions[d.RequestID], *d)
	}
	return nil
}

func (r *memDecisionRepo) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.LevelDecision, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*entity.LevelDecision, 0, len(r.s.decisions[requestID]))
	for _, d := range r.s.decisions[requestID] {
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LevelOrder < out[j].LevelOrder })
	return out, nil
}

func (r *memDecisionRepo) Record(ctx context.Context, requestID int64, levelOrder int, decision, decidedBy, comment string, decidedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rows := r.s.decisions[requestID]
	for i := range rows {
		if rows[i].LevelOrder != levelOrder {
			continue
		}
		if rows[i].Decision != entity.DecisionPending {
			return fmt.Errorf("%w: level %d already decided", domainwf.ErrIllegalState, levelOrder)
		}
		rows[i].Decision = decision
		rows[i].DecidedBy = decidedBy
		rows[i].DecidedAt = &decidedAt
		rows[i].Comment = comment
		return nil
	}
	return fmt.Errorf("decision %d/%d: %w", requestID, levelOrder, domainwf.ErrNotFound)
}

type memHistoryRepo struct{ s *memStore }

func (r *memHistoryRepo) Create(ctx context.Context, h *entity.HistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.historyErr != nil && h.Action != entity.ActionSubmitted {
		return r.s.historyErr
	}
	h.ID = r.s.id()
	r.s.history = append(r.s.history, *h)
	return nil
}

func (r *memHistoryRepo) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.HistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.HistoryEntry
	for _, h := range r.s.history {
		if h.RequestID == requestID {
			h := h
			out = append(out, &h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

type memOutboxRepo struct{ s *memStore }

func (r *memOutboxRepo) Enqueue(ctx context.Context, c event.Completion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.outbox[c.RequestID]; ok {
		return nil
	}
	r.s.outbox[c.RequestID] = outboxRow{completion: c, seq: r.s.id()}
	return nil
}

func (r *memOutboxRepo) MarkPublished(ctx context.Context, requestID int64, publishedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.outbox[requestID]
	if !ok {
		return fmt.Errorf("outbox %d: %w", requestID, domainwf.ErrNotFound)
	}
	row.published = true
	r.s.outbox[requestID] = row
	return nil
}

func (r *memOutboxRepo) ListUnpublished(ctx context.Context, limit int) ([]event.Completion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []outboxRow
	for _, row := range r.s.outbox {
		if !row.published {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]event.Completion, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.completion)
	}
	return out, nil
}

func (r *memOutboxRepo) IsPublished(ctx context.Context, requestID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.outbox[requestID]
	if !ok {
		return false, fmt.Errorf("outbox %d: %w", requestID, domainwf.ErrNotFound)
	}
	return row.published, nil
}

// mockPublisher records completions and can be made to fail
type mockPublisher struct {
	mu          sync.Mutex
	completions []event.Completion
	err         error
}

func (m *mockPublisher) PublishCompletion(ctx context.Context, c event.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.completions = append(m.completions, c)
	return nil
}

func (m *mockPublisher) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockPublisher) published() []event.Completion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.Completion(nil), m.completions...)
}

// gatedPublisher holds its first publish until release is closed
type gatedPublisher struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedPublisher) PublishCompletion(ctx context.Context, c event.Completion) error {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first {
		close(g.started)
		<-g.release
	}
	return nil
}

func (g *gatedPublisher) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recordingLocker wraps a locker and records requested keys
type recordingLocker struct {
	mu    sync.Mutex
	inner port.Locker
	keys  []string
}

func (r *recordingLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (port.Lease, error) {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return r.inner.Acquire(ctx, key, timeout)
}

func (r *recordingLocker) keyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// mockRecorder counts observations
type mockRecorder struct {
	mu          sync.Mutex
	transitions map[string]int
	lockWaits   int
	publishes   int
}

func (m *mockRecorder) ObserveTransition(action, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitions == nil {
		m.transitions = make(map[string]int)
	}
	m.transitions[action+"/"+result]++
}

func (m *mockRecorder) ObserveLockWait(wait time.Duration, acquired bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockWaits++
}

func (m *mockRecorder) ObservePublish(outcome string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishes++
}

// tickClock returns a strictly increasing time on every call
func tickClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

var errStore = errors.New("store unavailable")
