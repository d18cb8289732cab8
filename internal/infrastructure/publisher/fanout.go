package publisher

import (
	"context"
	"errors"

	"github.com/garyjia/approval-chain/internal/application/port"
	"github.com/garyjia/approval-chain/internal/domain/event"
)

// Fanout delivers to every publisher. It fails if any of them fails, so the
// outbox row is redelivered to all; subscribers dedupe.
type Fanout []port.CompletionPublisher

// PublishCompletion publishes to all members and joins their errors
func (f Fanout) PublishCompletion(ctx context.Context, completion event.Completion) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishCompletion(ctx, completion); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ port.CompletionPublisher = Fanout(nil)
