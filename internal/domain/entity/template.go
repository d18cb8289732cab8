package entity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	domainwf "github.com/garyjia/approval-chain/internal/domain/workflow"
)

// ChainTemplate is the configured, ordered list of approval levels for a subject type
type ChainTemplate struct {
	ID          int64        `json:"id"`
	SubjectType string       `json:"subject_type"`
	Name        string       `json:"name"`
	Active      bool         `json:"active"`
	Levels      []ChainLevel `json:"levels"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ChainLevel is one step of a chain template bound to a single approver identity
type ChainLevel struct {
	ID         int64  `json:"id,omitempty"`
	TemplateID int64  `json:"template_id,omitempty"`
	LevelOrder int    `json:"level_order"`
	Name       string `json:"name"`
	ApproverID string `json:"approver_id"`
	Required   bool   `json:"required"`
}

// ValidateLevels checks that levels are non-empty, that their orders form exactly 1..N
// in any input order, and that every level names an approver.
func ValidateLevels(levels []ChainLevel) error {
	if len(levels) == 0 {
		return fmt.Errorf("%w: chain must have at least one level", domainwf.ErrValidation)
	}

	seen := make(map[int]bool, len(levels))
	for _, level := range levels {
		if level.LevelOrder < 1 || level.LevelOrder > len(levels) {
			return fmt.Errorf("%w: level order %d outside 1..%d", domainwf.ErrValidation, level.LevelOrder, len(levels))
		}
		if seen[level.LevelOrder] {
			return fmt.Errorf("%w: duplicate level order %d", domainwf.ErrValidation, level.LevelOrder)
		}
		seen[level.LevelOrder] = true

		if strings.TrimSpace(level.ApproverID) == "" {
			return fmt.Errorf("%w: level %d has no approver", domainwf.ErrValidation, level.LevelOrder)
		}
	}

	return nil
}

// SortLevels orders levels by level order in place
func SortLevels(levels []ChainLevel) {
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].LevelOrder < levels[j].LevelOrder
	})
}
