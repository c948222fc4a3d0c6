package escalation

import (
	"fmt"
	"time"

	"github.com/Strob0t/arbiter/internal/domain"
	"github.com/Strob0t/arbiter/internal/domain/consensus"
	"github.com/Strob0t/arbiter/internal/domain/decision"
)

// Outcome is a state of the escalation state machine.
type Outcome string

const (
	Pending       Outcome = "pending"
	AutoApproved  Outcome = "auto_approved"
	AutoBlocked   Outcome = "auto_blocked"
	AwaitingHuman Outcome = "awaiting_human"
	HumanApproved Outcome = "human_approved"
	HumanRejected Outcome = "human_rejected"
	Undetermined  Outcome = "undetermined"
)

// IsFinal reports whether no further transition is possible.
func (o Outcome) IsFinal() bool {
	return o != Pending && o != AwaitingHuman
}

// NeedsAttention reports whether a notification should go out.
// Undetermined is included so a request without quorum stays visible.
func (o Outcome) NeedsAttention() bool {
	return o == AwaitingHuman || o == AutoBlocked || o == Undetermined
}

// Reason explains an outcome.
type Reason string

const (
	ReasonRiskThresholdExceeded Reason = "risk_threshold_exceeded"
	ReasonNoQuorum              Reason = "no_quorum"
	ReasonSafetyVeto            Reason = "safety_veto"
	ReasonHighDisagreement      Reason = "high_disagreement"
	ReasonLowConfidence         Reason = "low_confidence"
	ReasonDegradedQuorum        Reason = "degraded_quorum"
	ReasonConsensusApprove      Reason = "consensus_approve"
	ReasonConsensusReject       Reason = "consensus_reject"
	ReasonModifyRecommended     Reason = "modify_recommended"
	ReasonHumanReviewRequired   Reason = "human_review_required"
	ReasonHumanApproved         Reason = "human_approved"
	ReasonHumanRejected         Reason = "human_rejected"
)

// Action is a human approver's choice.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction validates a caller-supplied action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionApprove, ActionReject:
		return Action(s), nil
	}
	return "", fmt.Errorf("%w: decision must be approve or reject", domain.ErrValidation)
}

// Resolution records the human action that settled an escalated decision.
type Resolution struct {
	Action     Action    `json:"action"`
	Comment    string    `json:"comment,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Decision is the routing verdict for one request.
type Decision struct {
	RequestID           string      `json:"request_id"`
	Outcome             Outcome     `json:"outcome"`
	ReasonCodes         []Reason    `json:"reason_codes"`
	EvaluatedThresholds Policy      `json:"evaluated_thresholds"`
	DecidedAt           time.Time   `json:"decided_at"`
	Resolution          *Resolution `json:"resolution,omitempty"`
}

// Input is everything Evaluate looks at.
type Input struct {
	RequestID string
	RiskScore float64
	Required  int
	Consensus consensus.Result
	Responses []decision.Response
}

// Evaluate applies the routing rules in order; the first match decides the
// outcome and leads ReasonCodes. Later review conditions that also hold
// are appended after it for the audit trail.
func Evaluate(in Input, p Policy, now time.Time) Decision {
	d := Decision{
		RequestID:           in.RequestID,
		Outcome:             Pending,
		EvaluatedThresholds: p.Clone(),
		DecidedAt:           now,
	}
	c := in.Consensus

	if in.RiskScore > p.RiskThreshold {
		d.Outcome = AutoBlocked
		d.ReasonCodes = []Reason{ReasonRiskThresholdExceeded}
		return d
	}
	if c.ContributingCount == 0 {
		d.Outcome = Undetermined
		d.ReasonCodes = []Reason{ReasonNoQuorum}
		return d
	}

	var review []Reason
	if vetoed(in.Responses, p) {
		review = append(review, ReasonSafetyVeto)
	}
	if c.DisagreementScore > p.DisagreementThreshold {
		review = append(review, ReasonHighDisagreement)
	}
	if c.AggregateConfidence < p.ConfidenceThreshold {
		review = append(review, ReasonLowConfidence)
	}
	if c.ContributingCount < in.Required {
		review = append(review, ReasonDegradedQuorum)
	}
	if len(review) > 0 {
		d.Outcome = AwaitingHuman
		d.ReasonCodes = review
		return d
	}

	switch c.AggregateRecommendation {
	case decision.Approve:
		if p.RequireHuman {
			d.Outcome = AwaitingHuman
			d.ReasonCodes = []Reason{ReasonHumanReviewRequired, ReasonConsensusApprove}
			break
		}
		d.Outcome = AutoApproved
		d.ReasonCodes = []Reason{ReasonConsensusApprove}
	case decision.Reject:
		d.Outcome = AutoBlocked
		d.ReasonCodes = []Reason{ReasonConsensusReject}
	default:
		d.Outcome = AwaitingHuman
		d.ReasonCodes = []Reason{ReasonModifyRecommended}
	}
	return d
}

// vetoed reports whether a veto role rejected with enough confidence.
func vetoed(responses []decision.Response, p Policy) bool {
	for _, r := range responses {
		if r.Recommendation == decision.Reject && r.Confidence >= p.VetoConfidence && p.isVetoRole(r.Role) {
			return true
		}
	}
	return false
}

// Resolve applies a human action to an escalated decision. Only
// AwaitingHuman may be resolved; anything else returns an error wrapping
// domain.ErrInvalidStateTransition and leaves d untouched.
func Resolve(d Decision, action Action, comment, actor string, now time.Time) (Decision, error) {
	if d.Outcome != AwaitingHuman {
		return d, fmt.Errorf("%w: request %s is %s, not %s",
			domain.ErrInvalidStateTransition, d.RequestID, d.Outcome, AwaitingHuman)
	}

	next := d
	next.ReasonCodes = append([]Reason{}, d.ReasonCodes...)
	next.EvaluatedThresholds = d.EvaluatedThresholds.Clone()
	next.DecidedAt = now
	next.Resolution = &Resolution{Action: action, Comment: comment, Actor: actor, ResolvedAt: now}

	switch action {
	case ActionApprove:
		next.Outcome = HumanApproved
		next.ReasonCodes = append(next.ReasonCodes, ReasonHumanApproved)
	case ActionReject:
		next.Outcome = HumanRejected
		next.ReasonCodes = append(next.ReasonCodes, ReasonHumanRejected)
	default:
		return d, fmt.Errorf("%w: unknown action %q", domain.ErrValidation, action)
	}
	return next, nil
}
