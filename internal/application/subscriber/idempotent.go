package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/approval-chain/internal/application/dispatcher"
	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/entity"
	"github.com/garyjia/approval-chain/internal/domain/event"
)

// CompletionHandler applies a completion to a subscribing domain
type CompletionHandler func(ctx context.Context, completion event.Completion) error

// Idempotent wraps handler so each (consumer, cause) is applied once.
// The processed marker and the handler share one transaction: a failing handler
// rolls the marker back and the next delivery retries it.
func Idempotent(
	store port.ProcessedCauseRepository,
	txManager port.TransactionManager,
	consumer string,
	handler CompletionHandler,
	logger dispatcher.Logger,
) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		completion, err := event.CompletionFromEvent(evt)
		if err != nil {
			return fmt.Errorf("subscriber %s: %w", consumer, err)
		}

		applied := false
		err = txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			fresh, err := store.MarkProcessed(txCtx, &entity.ProcessedCause{
				Consumer:    consumer,
				CauseType:   entity.CauseTypeApprovalRequest,
				CauseID:     completion.CauseID(),
				ProcessedAt: time.Now(),
			})
			if err != nil {
				return fmt.Errorf("failed to record processed cause: %w", err)
			}
			if !fresh {
				return nil
			}

			applied = true
			return handler(txCtx, completion)
		})
		if err != nil {
			return err
		}

		if logger != nil && !applied {
			logger.Info("Duplicate completion skipped",
				"consumer", consumer,
				"request_id", completion.RequestID,
				"outcome", completion.Outcome,
			)
		}
		return nil
	}
}
