package event

import (
	"fmt"
	"strconv"
	"time"
)

// Completion is the notification emitted once a request reaches a terminal state.
// Subscribers must apply it idempotently, keyed on (CauseType, CauseID).
type Completion struct {
	RequestID   int64     `json:"request_id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	Outcome     string    `json:"outcome"`
	ActorID     string    `json:"actor_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// CauseID is the idempotency key of the completion
func (c Completion) CauseID() string {
	return strconv.FormatInt(c.RequestID, 10)
}

// EventType maps the outcome to the dispatcher event type
func (c Completion) EventType() (Type, error) {
	switch c.Outcome {
	case "APPROVED":
		return TypeRequestApproved, nil
	case "REJECTED":
		return TypeRequestRejected, nil
	default:
		return "", fmt.Errorf("unknown completion outcome: %q", c.Outcome)
	}
}

// ToEvent wraps the completion in a dispatcher event. The event ID is derived from the
// request so redelivered completions carry the same ID.
func (c Completion) ToEvent() (*Event, error) {
	eventType, err := c.EventType()
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"outcome":  c.Outcome,
		"actor_id": c.ActorID,
	}
	if c.Reason != "" {
		payload["reason"] = c.Reason
	}

	id := fmt.Sprintf("completion-%d", c.RequestID)
	return &Event{
		ID:            id,
		Type:          eventType,
		RequestID:     c.RequestID,
		SubjectType:   c.SubjectType,
		SubjectID:     c.SubjectID,
		Payload:       payload,
		Timestamp:     c.OccurredAt,
		CorrelationID: id,
	}, nil
}

// CompletionFromEvent rebuilds a completion from a dispatcher event
func CompletionFromEvent(evt *Event) (Completion, error) {
	if evt == nil || !evt.Type.IsCompletion() {
		return Completion{}, fmt.Errorf("event is not a completion")
	}
	return Completion{
		RequestID:   evt.RequestID,
		SubjectType: evt.SubjectType,
		SubjectID:   evt.SubjectID,
		Outcome:     evt.GetPayloadString("outcome"),
		ActorID:     evt.GetPayloadString("actor_id"),
		Reason:      evt.GetPayloadString("reason"),
		OccurredAt:  evt.Timestamp,
	}, nil
}
