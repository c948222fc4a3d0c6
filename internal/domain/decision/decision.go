// Package decision defines decision requests, the role-scoped subtasks they
// fan out into, and the normalized responses advisory providers return.
package decision

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/Strob0t/arbiter/internal/domain"
)

// Role names the advisory perspective a subtask asks a provider to take.
type Role string

// Roles with dedicated prompts. Any other non-empty role is accepted and
// gets the generic advisory prompt.
const (
	RoleAnalysis    Role = "analysis"
	RoleCopy        Role = "copy"
	RoleSafety      Role = "safety"
	RolePricing     Role = "pricing"
	RoleStrategy    Role = "strategy"
	RoleAdversarial Role = "adversarial"
)

// Recommendation is a provider's or the aggregate's verdict.
type Recommendation string

const (
	Approve Recommendation = "approve"
	Reject  Recommendation = "reject"
	Modify  Recommendation = "modify"

	// Undetermined is only produced by consensus when nobody contributed.
	Undetermined Recommendation = "undetermined"
)

// Scalar maps a recommendation onto the consensus axis:
// approve +1, modify 0, reject -1.
func (r Recommendation) Scalar() float64 {
	switch r {
	case Approve:
		return 1
	case Reject:
		return -1
	default:
		return 0
	}
}

// Request is an immutable decision request supplied by an originator.
type Request struct {
	ID            string          `json:"id"`
	Title         string          `json:"title,omitempty"`
	Context       json.RawMessage `json:"context,omitempty"`
	RiskScore     float64         `json:"risk_score"`
	RequiredRoles []Role          `json:"required_roles"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Validate reports caller-side contract violations. Every returned error
// wraps domain.ErrValidation.
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if len(r.ID) > 128 {
		return fmt.Errorf("%w: id too long (max 128 chars)", domain.ErrValidation)
	}
	if math.IsNaN(r.RiskScore) || r.RiskScore < 0 || r.RiskScore > 100 {
		return fmt.Errorf("%w: risk_score must be within [0,100]", domain.ErrValidation)
	}
	if len(r.RequiredRoles) == 0 {
		return fmt.Errorf("%w: required_roles must not be empty", domain.ErrValidation)
	}
	seen := make(map[Role]bool, len(r.RequiredRoles))
	for i, role := range r.RequiredRoles {
		if role == "" {
			return fmt.Errorf("%w: required_roles[%d] is empty", domain.ErrValidation, i)
		}
		if seen[role] {
			return fmt.Errorf("%w: role %q listed twice", domain.ErrValidation, role)
		}
		seen[role] = true
	}
	if len(r.Context) > 0 && !json.Valid(r.Context) {
		return fmt.Errorf("%w: context is not valid JSON", domain.ErrValidation)
	}
	return nil
}
