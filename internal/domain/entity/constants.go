package entity

// Status constants for ApprovalRequest
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// Decision constants for LevelDecision
const (
	DecisionPending  = "PENDING"
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// Action constants for HistoryEntry
const (
	ActionSubmitted = "SUBMITTED"
	ActionApproved  = "APPROVED"
	ActionRejected  = "REJECTED"
)

// Outcome constants for completion events
const (
	OutcomeApproved = "APPROVED"
	OutcomeRejected = "REJECTED"
)

// CauseTypeApprovalRequest is the cause type subscribers key completion idempotency on
const CauseTypeApprovalRequest = "APPROVAL_REQUEST"
