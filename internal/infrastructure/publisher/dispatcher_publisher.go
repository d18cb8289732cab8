package publisher

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-chain/internal/application/dispatcher"
	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/event"
)

// DispatcherPublisher delivers completions to in-process subscribers synchronously,
// so a failing subscriber surfaces as a publish failure and the outbox keeps the row.
type DispatcherPublisher struct {
	dispatcher dispatcher.Dispatcher
}

// NewDispatcherPublisher creates a publisher on top of the event dispatcher
func NewDispatcherPublisher(d dispatcher.Dispatcher) *DispatcherPublisher {
	return &DispatcherPublisher{dispatcher: d}
}

// PublishCompletion dispatches the completion as an approval.approved or approval.rejected event
func (p *DispatcherPublisher) PublishCompletion(ctx context.Context, completion event.Completion) error {
	evt, err := completion.ToEvent()
	if err != nil {
		return err
	}
	if err := p.dispatcher.Dispatch(ctx, evt); err != nil {
		return fmt.Errorf("dispatch completion %d: %w", completion.RequestID, err)
	}
	return nil
}

var _ port.CompletionPublisher = (*DispatcherPublisher)(nil)
