// Package escalation decides whether a decision is settled automatically or
// routed to a human, and governs the human resolution that follows.
package escalation

import (
	"maps"
	"slices"

	"github.com/Strob0t/arbiter/internal/domain/consensus"
	"github.com/Strob0t/arbiter/internal/domain/decision"
)

// Policy is the immutable threshold set an evaluation runs against. A copy
// is embedded in every Decision so the audit trail shows what was applied.
type Policy struct {
	RiskThreshold         float64            `json:"risk_threshold"`
	DisagreementThreshold float64            `json:"disagreement_threshold"`
	ConfidenceThreshold   float64            `json:"confidence_threshold"`
	DisagreementMetric    consensus.Metric   `json:"disagreement_metric"`
	RoleWeights           map[string]float64 `json:"role_weights,omitempty"`
	VetoRoles             []string           `json:"veto_roles,omitempty"`
	VetoConfidence        float64            `json:"veto_confidence,omitempty"`
	// RequireHuman turns every consensus approval into a review request.
	RequireHuman bool `json:"require_human,omitempty"`
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		RiskThreshold:         50,
		DisagreementThreshold: 0.05,
		ConfidenceThreshold:   0.7,
		DisagreementMetric:    consensus.MetricVariance,
		VetoConfidence:        0.8,
	}
}

// Clone returns a deep copy that shares no maps or slices with p.
func (p Policy) Clone() Policy {
	c := p
	c.RoleWeights = maps.Clone(p.RoleWeights)
	c.VetoRoles = slices.Clone(p.VetoRoles)
	return c
}

// Weights converts the configured role weights for the consensus engine.
func (p Policy) Weights() consensus.Weights {
	w := make(consensus.Weights, len(p.RoleWeights))
	for role, v := range p.RoleWeights {
		w[decision.Role(role)] = v
	}
	return w
}

func (p Policy) isVetoRole(role decision.Role) bool {
	return slices.Contains(p.VetoRoles, string(role))
}
