package entity

import "time"

// ApprovalRequest is one submission of a subject entity through a chain.
// CurrentLevel is 1-based and only moves forward while the request is PENDING.
type ApprovalRequest struct {
	ID                 int64      `json:"id"`
	SubjectType        string     `json:"subject_type"`
	SubjectID          string     `json:"subject_id"`
	SubjectDescription string     `json:"subject_description"`
	TemplateID         int64      `json:"template_id"`
	CurrentLevel       int        `json:"current_level"`
	TotalLevels        int        `json:"total_levels"`
	Status             string     `json:"status"`
	SubmitterID        string     `json:"submitter_id"`
	SubmittedAt        time.Time  `json:"submitted_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// IsPending reports whether the request still accepts decisions
func (r *ApprovalRequest) IsPending() bool {
	return r.Status == StatusPending
}

// IsLastLevel reports whether the current level is the final one of the chain
func (r *ApprovalRequest) IsLastLevel() bool {
	return r.CurrentLevel == r.TotalLevels
}

// LevelDecision is the decision ledger row for one level of one request.
// Level name, approver and required flag are copied from the template at submission.
type LevelDecision struct {
	ID         int64      `json:"id"`
	RequestID  int64      `json:"request_id"`
	LevelOrder int        `json:"level_order"`
	LevelName  string     `json:"level_name"`
	ApproverID string     `json:"approver_id"`
	Required   bool       `json:"required"`
	Decision   string     `json:"decision"`
	DecidedBy  string     `json:"decided_by,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	Comment    string     `json:"comment,omitempty"`
}

// IsDecided reports whether the level already carries a final decision
func (d *LevelDecision) IsDecided() bool {
	return d.Decision != DecisionPending
}

// RequestDetail is a request together with its ledger, read from one snapshot
type RequestDetail struct {
	Request   *ApprovalRequest `json:"request"`
	Decisions []*LevelDecision `json:"decisions"`
}
