package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/approval-chain/internal/application/dispatcher"
	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/entity"
	"github.com/garyjia/approval-chain/internal/domain/event"
	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
)

const tracerName = "github.com/garyjia/approval-chain/internal/application/workflow"

// Repositories groups the stores the engine writes through
type Repositories struct {
	Templates port.TemplateRepository
	Requests  port.RequestRepository
	Decisions port.DecisionRepository
	History   port.HistoryRepository
	Outbox    port.OutboxRepository
}

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	repos     Repositories
	txManager port.TransactionManager
	locker    port.Locker

	publisher  port.CompletionPublisher
	dispatcher dispatcher.Dispatcher
	recorder   Recorder
	logger     dispatcher.Logger
	tracer     trace.Tracer

	lockTimeout time.Duration
	lockScope   LockScope
	now         func() time.Time
}

// NewEngine creates a new workflow engine
func NewEngine(
	repos Repositories,
	txManager port.TransactionManager,
	locker port.Locker,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		repos:       repos,
		txManager:   txManager,
		locker:      locker,
		recorder:    noopRecorder{},
		tracer:      otel.Tracer(tracerName),
		lockTimeout: DefaultLockTimeout,
		lockScope:   LockScopeRequest,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Submit creates a request, its PENDING ledger and the SUBMITTED history entry in one transaction
func (e *engineImpl) Submit(ctx context.Context, subjectType, subjectID, description, submitterID string) (req *entity.ApprovalRequest, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Submit", trace.WithAttributes(
		attribute.String("subject.type", subjectType),
		attribute.String("subject.id", subjectID),
	))
	defer func() { e.finish(span, entity.ActionSubmitted, err) }()

	if strings.TrimSpace(subjectID) == "" {
		return nil, fmt.Errorf("%w: subject id is required", domainwf.ErrValidation)
	}
	if strings.TrimSpace(submitterID) == "" {
		return nil, fmt.Errorf("%w: submitter id is required", domainwf.ErrValidation)
	}

	err = e.withLock(ctx, subjectKey(subjectType, subjectID), func() error {
		return e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			template, err := e.repos.Templates.GetActiveBySubjectType(txCtx, subjectType)
			if err != nil {
				if errors.Is(err, domainwf.ErrNotFound) {
					return fmt.Errorf("%w: no active template for subject type %q", domainwf.ErrValidation, subjectType)
				}
				return fmt.Errorf("failed to load template: %w", err)
			}
			if err := entity.ValidateLevels(template.Levels); err != nil {
				return fmt.Errorf("template %d: %w", template.ID, err)
			}

			existing, err := e.repos.Requests.FindPendingBySubject(txCtx, subjectType, subjectID)
			if err != nil {
				return fmt.Errorf("failed to check pending requests: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("%w: subject %s/%s already has pending request %d",
					domainwf.ErrIllegalState, subjectType, subjectID, existing.ID)
			}

			levels := append([]entity.ChainLevel(nil), template.Levels...)
			entity.SortLevels(levels)

			now := e.now()
			req = &entity.ApprovalRequest{
				SubjectType:        subjectType,
				SubjectID:          subjectID,
				SubjectDescription: description,
				TemplateID:         template.ID,
				CurrentLevel:       1,
				TotalLevels:        len(levels),
				Status:             entity.StatusPending,
				SubmitterID:        submitterID,
				SubmittedAt:        now,
			}
			if err := e.repos.Requests.Create(txCtx, req); err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}

			decisions := make([]*entity.LevelDecision, 0, len(levels))
			for _, level := range levels {
				decisions = append(decisions, &entity.LevelDecision{
					RequestID:  req.ID,
					LevelOrder: level.LevelOrder,
					LevelName:  level.Name,
					ApproverID: level.ApproverID,
					Required:   level.Required,
					Decision:   entity.DecisionPending,
				})
			}
			if err := e.repos.Decisions.CreateBatch(txCtx, decisions); err != nil {
				return fmt.Errorf("failed to create decisions: %w", err)
			}

			return e.repos.History.Create(txCtx, &entity.HistoryEntry{
				RequestID: req.ID,
				Action:    entity.ActionSubmitted,
				ActorID:   submitterID,
				Comment:   description,
				Timestamp: now,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	e.logInfo("Approval request submitted",
		"request_id", req.ID,
		"subject_type", subjectType,
		"subject_id", subjectID,
		"total_levels", req.TotalLevels,
	)
	e.emit(ctx, event.TypeRequestSubmitted, req, map[string]interface{}{
		"submitter_id": submitterID,
		"total_levels": req.TotalLevels,
	})

	return req, nil
}

// Approve decides the current level as APPROVED
func (e *engineImpl) Approve(ctx context.Context, requestID int64, actorID, comment string) (*entity.ApprovalRequest, error) {
	return e.decide(ctx, decision{
		requestID: requestID,
		actorID:   actorID,
		comment:   comment,
		trigger:   domainwf.TriggerApprove,
	})
}

// Reject decides the current level as REJECTED and ends the request
func (e *engineImpl) Reject(ctx context.Context, requestID int64, actorID, reason, comment string) (*entity.ApprovalRequest, error) {
	return e.decide(ctx, decision{
		requestID: requestID,
		actorID:   actorID,
		reason:    reason,
		comment:   comment,
		trigger:   domainwf.TriggerReject,
	})
}

type decision struct {
	requestID int64
	actorID   string
	reason    string
	comment   string
	trigger   domainwf.Trigger
}

func (d decision) action() string {
	if d.trigger == domainwf.TriggerReject {
		return entity.ActionRejected
	}
	return entity.ActionApproved
}

// historyComment joins reason and comment for REJECTED entries
func (d decision) historyComment() string {
	if d.trigger != domainwf.TriggerReject || d.reason == "" {
		return d.comment
	}
	if d.comment == "" {
		return d.reason
	}
	return d.reason + ": " + d.comment
}

func (e *engineImpl) decide(ctx context.Context, d decision) (result *entity.ApprovalRequest, err error) {
	action := d.action()
	spanName := "workflow.Approve"
	if d.trigger == domainwf.TriggerReject {
		spanName = "workflow.Reject"
	}
	ctx, span := e.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.Int64("request.id", d.requestID),
		attribute.String("actor.id", d.actorID),
	))
	defer func() { e.finish(span, action, err) }()

	key, err := e.lockKey(ctx, d.requestID)
	if err != nil {
		return nil, err
	}

	var completion *event.Completion
	var previousLevel int

	err = e.withLock(ctx, key, func() error {
		err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			req, err := e.repos.Requests.GetByID(txCtx, d.requestID)
			if err != nil {
				return err
			}

			state := domainwf.State(req.Status)
			if !state.IsValid() {
				return fmt.Errorf("%w: request %d has status %q", domainwf.ErrInvalidState, req.ID, req.Status)
			}

			machine := BuildApprovalStateMachine(req)
			if !machine.CanFire(d.trigger) {
				return fmt.Errorf("%w: request %d is %s, no longer pending", domainwf.ErrIllegalState, req.ID, req.Status)
			}

			decisions, err := e.repos.Decisions.GetByRequestID(txCtx, req.ID)
			if err != nil {
				return fmt.Errorf("failed to load decisions: %w", err)
			}
			if err := checkActor(req, decisions, d.actorID); err != nil {
				return err
			}

			if err := machine.Fire(txCtx, d.trigger); err != nil {
				return fmt.Errorf("%w: %v", domainwf.ErrIllegalState, err)
			}

			now := e.now()
			level := req.CurrentLevel
			previousLevel = level

			if err := e.repos.Decisions.Record(txCtx, req.ID, level, action, d.actorID, d.comment, now); err != nil {
				return err
			}
			if err := e.repos.History.Create(txCtx, &entity.HistoryEntry{
				RequestID:  req.ID,
				Action:     action,
				ActorID:    d.actorID,
				LevelOrder: &level,
				Comment:    d.historyComment(),
				Timestamp:  now,
			}); err != nil {
				return fmt.Errorf("failed to append history: %w", err)
			}

			switch machine.State() {
			case domainwf.StatePending:
				if err := e.repos.Requests.AdvanceLevel(txCtx, req.ID, level); err != nil {
					return err
				}
				req.CurrentLevel = level + 1
			default:
				status := machine.State().String()
				if err := e.repos.Requests.Complete(txCtx, req.ID, status, now); err != nil {
					return err
				}
				req.Status = status
				req.CompletedAt = &now

				c := event.Completion{
					RequestID:   req.ID,
					SubjectType: req.SubjectType,
					SubjectID:   req.SubjectID,
					Outcome:     status,
					ActorID:     d.actorID,
					Reason:      d.reason,
					OccurredAt:  now,
				}
				if err := e.repos.Outbox.Enqueue(txCtx, c); err != nil {
					return fmt.Errorf("failed to enqueue completion: %w", err)
				}
				completion = &c
			}

			result = req
			return nil
		})
		if err != nil {
			return err
		}

		if completion != nil {
			e.publish(ctx, *completion)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logInfo("Approval decision recorded",
		"request_id", result.ID,
		"action", action,
		"actor_id", d.actorID,
		"level", previousLevel,
		"status", result.Status,
	)
	if completion == nil {
		e.emit(ctx, event.TypeLevelApproved, result, map[string]interface{}{
			"actor_id":   d.actorID,
			"level":      previousLevel,
			"next_level": result.CurrentLevel,
		})
	}

	return result, nil
}

// checkActor enforces the exact-match approver of the current level.
// An actor whose own earlier level is already decided gets ErrIllegalState, the
// outcome of losing a race for a level that has since moved on.
func checkActor(req *entity.ApprovalRequest, decisions []*entity.LevelDecision, actorID string) error {
	var current *entity.LevelDecision
	for _, d := range decisions {
		if d.LevelOrder == req.CurrentLevel {
			current = d
			break
		}
	}
	if current == nil {
		return fmt.Errorf("%w: request %d has no decision for level %d", domainwf.ErrIllegalState, req.ID, req.CurrentLevel)
	}

	if current.ApproverID == actorID {
		if current.IsDecided() {
			return fmt.Errorf("%w: level %d already decided", domainwf.ErrIllegalState, current.LevelOrder)
		}
		return nil
	}

	for _, d := range decisions {
		if d.LevelOrder < req.CurrentLevel && d.ApproverID == actorID && d.IsDecided() {
			return fmt.Errorf("%w: level %d already decided", domainwf.ErrIllegalState, d.LevelOrder)
		}
	}

	return fmt.Errorf("%w: %q cannot decide level %d of request %d",
		domainwf.ErrUnauthorized, actorID, req.CurrentLevel, req.ID)
}

// read runs fn in a read-only transaction when the manager offers one
func (e *engineImpl) read(ctx context.Context, fn func(ctx context.Context) error) error {
	if r, ok := e.txManager.(port.ReadTransactionManager); ok {
		return r.WithReadTransaction(ctx, fn)
	}
	return e.txManager.WithTransaction(ctx, fn)
}

// GetRequest reads the request and its ledger in one transaction
func (e *engineImpl) GetRequest(ctx context.Context, requestID int64) (*entity.RequestDetail, error) {
	var detail *entity.RequestDetail
	err := e.read(ctx, func(txCtx context.Context) error {
		req, err := e.repos.Requests.GetByID(txCtx, requestID)
		if err != nil {
			return err
		}
		decisions, err := e.repos.Decisions.GetByRequestID(txCtx, requestID)
		if err != nil {
			return fmt.Errorf("failed to load decisions: %w", err)
		}
		detail = &entity.RequestDetail{Request: req, Decisions: decisions}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// GetHistory reads the audit trail in one transaction
func (e *engineImpl) GetHistory(ctx context.Context, requestID int64) ([]*entity.HistoryEntry, error) {
	var entries []*entity.HistoryEntry
	err := e.read(ctx, func(txCtx context.Context) error {
		if _, err := e.repos.Requests.GetByID(txCtx, requestID); err != nil {
			return err
		}
		var err error
		entries, err = e.repos.History.GetByRequestID(txCtx, requestID)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// RedeliverPending publishes unpublished outbox rows, oldest first.
// Each row is re-checked under the request lock so a completion still being
// published by its own transition is not sent twice.
func (e *engineImpl) RedeliverPending(ctx context.Context, limit int) (int, error) {
	if e.publisher == nil {
		return 0, nil
	}

	pending, err := e.repos.Outbox.ListUnpublished(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending completions: %w", err)
	}

	delivered := 0
	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		ok, err := e.redeliver(ctx, c)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return delivered, ctxErr
			}
			e.logError("Completion redelivery skipped",
				"request_id", c.RequestID,
				"error", err,
			)
			continue
		}
		if ok {
			delivered++
		}
	}

	if len(pending) > 0 {
		e.logInfo("Completion redelivery finished",
			"pending", len(pending),
			"delivered", delivered,
		)
	}
	return delivered, nil
}

func (e *engineImpl) redeliver(ctx context.Context, c event.Completion) (bool, error) {
	key := requestKey(c.RequestID)
	if e.lockScope == LockScopeSubject {
		key = subjectKey(c.SubjectType, c.SubjectID)
	}

	delivered := false
	err := e.withLock(ctx, key, func() error {
		published, err := e.repos.Outbox.IsPublished(ctx, c.RequestID)
		if err != nil {
			return err
		}
		if !published {
			delivered = e.publish(ctx, c)
		}
		return nil
	})
	return delivered, err
}

// publish delivers a committed completion. Failures leave the outbox row for redelivery.
func (e *engineImpl) publish(ctx context.Context, c event.Completion) bool {
	if e.publisher == nil {
		return false
	}

	err := e.publisher.PublishCompletion(ctx, c)
	e.recorder.ObservePublish(c.Outcome, err)
	if err != nil {
		e.logError("Completion publish failed",
			"request_id", c.RequestID,
			"outcome", c.Outcome,
			"error", err,
		)
		return false
	}

	if err := e.repos.Outbox.MarkPublished(ctx, c.RequestID, e.now()); err != nil {
		e.logError("Failed to mark completion published",
			"request_id", c.RequestID,
			"error", err,
		)
	}
	return true
}

func (e *engineImpl) lockKey(ctx context.Context, requestID int64) (string, error) {
	if e.lockScope != LockScopeSubject {
		return requestKey(requestID), nil
	}

	req, err := e.repos.Requests.GetByID(ctx, requestID)
	if err != nil {
		return "", err
	}
	return subjectKey(req.SubjectType, req.SubjectID), nil
}

// withLock runs fn while holding key. The lease is released after fn returns,
// so commit and publication both happen under the lock.
func (e *engineImpl) withLock(ctx context.Context, key string, fn func() error) error {
	start := time.Now()
	lease, err := e.locker.Acquire(ctx, key, e.lockTimeout)
	e.recorder.ObserveLockWait(time.Since(start), err == nil)
	if err != nil {
		return err
	}

	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.logError("Failed to release lock", "key", key, "error", err)
		}
	}()

	return fn()
}

// emit dispatches a non-terminal lifecycle event without blocking the caller
func (e *engineImpl) emit(ctx context.Context, eventType event.Type, req *entity.ApprovalRequest, payload map[string]interface{}) {
	if e.dispatcher == nil {
		return
	}
	evt := event.NewEvent(eventType, req.ID, req.SubjectType, req.SubjectID, payload)
	e.dispatcher.DispatchAsync(context.WithoutCancel(ctx), evt)
}

func (e *engineImpl) finish(span trace.Span, action string, err error) {
	result := domainwf.Classify(err)
	e.recorder.ObserveTransition(action, result)
	span.SetAttributes(attribute.String("result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *engineImpl) logInfo(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Info(msg, kv...)
	}
}

func (e *engineImpl) logError(msg string, kv ...interface{}) {
	if e.logger != nil {
		e.logger.Error(msg, kv...)
	}
}

func requestKey(requestID int64) string {
	return fmt.Sprintf("request:%d", requestID)
}

func subjectKey(subjectType, subjectID string) string {
	return fmt.Sprintf("subject:%s:%s", subjectType, subjectID)
}
