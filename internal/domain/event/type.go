package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestSubmitted Type = "approval.submitted"
	TypeLevelApproved    Type = "approval.level_approved"
	TypeRequestApproved  Type = "approval.approved"
	TypeRequestRejected  Type = "approval.rejected"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestSubmitted,
		TypeLevelApproved,
		TypeRequestApproved,
		TypeRequestRejected:
		return true
	default:
		return false
	}
}

// IsCompletion reports whether the event marks a terminal transition
func (t Type) IsCompletion() bool {
	return t == TypeRequestApproved || t == TypeRequestRejected
}
