package entity

import "time"

// HistoryEntry is one append-only audit record of a request.
// LevelOrder is nil for SUBMITTED.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	RequestID  int64     `json:"request_id"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id"`
	LevelOrder *int      `json:"level_order,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessedCause records that a consumer already applied the effect of a cause
type ProcessedCause struct {
	Consumer    string    `json:"consumer"`
	CauseType   string    `json:"cause_type"`
	CauseID     string    `json:"cause_id"`
	ProcessedAt time.Time `json:"processed_at"`
}
