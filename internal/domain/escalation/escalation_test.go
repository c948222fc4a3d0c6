package escalation

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/Strob0t/arbiter/internal/domain"
	"github.com/Strob0t/arbiter/internal/domain/consensus"
	"github.com/Strob0t/arbiter/internal/domain/decision"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func input(risk float64, required int, responses ...decision.Response) Input {
	return Input{
		RequestID: "req",
		RiskScore: risk,
		Required:  required,
		Consensus: consensus.Compute("req", required, responses, nil, consensus.MetricVariance),
		Responses: responses,
	}
}

func r(role decision.Role, rec decision.Recommendation, conf float64) decision.Response {
	return decision.Response{Role: role, Recommendation: rec, Confidence: conf}
}

func TestEvaluateRules(t *testing.T) {
	tests := []struct {
		name        string
		in          Input
		policy      func(*Policy)
		wantOutcome Outcome
		wantReason  Reason
	}{
		{
			name:        "confident agreement auto-approves",
			in:          input(20, 2, r("strategy", decision.Approve, 0.85), r("safety", decision.Approve, 0.92)),
			wantOutcome: AutoApproved,
			wantReason:  ReasonConsensusApprove,
		},
		{
			name:        "opposite split escalates",
			in:          input(20, 2, r("strategy", decision.Approve, 0.6), r("safety", decision.Reject, 0.9)),
			wantOutcome: AwaitingHuman,
			wantReason:  ReasonHighDisagreement,
		},
		{
			name:        "partial quorum escalates",
			in:          input(20, 2, r("strategy", decision.Approve, 0.8)),
			wantOutcome: AwaitingHuman,
			wantReason:  ReasonDegradedQuorum,
		},
		{
			name: "risk blocks before consensus",
			in: input(85, 3,
				r("strategy", decision.Approve, 0.95),
				r("safety", decision.Approve, 0.95),
				r("analysis", decision.Approve, 0.95)),
			wantOutcome: AutoBlocked,
			wantReason:  ReasonRiskThresholdExceeded,
		},
		{
			name:        "risk at threshold is not exceeded",
			in:          input(50, 1, r("strategy", decision.Approve, 0.9)),
			wantOutcome: AutoApproved,
			wantReason:  ReasonConsensusApprove,
		},
		{
			name:        "nobody answered",
			in:          input(10, 2),
			wantOutcome: Undetermined,
			wantReason:  ReasonNoQuorum,
		},
		{
			name:        "risk still wins without quorum",
			in:          input(90, 2),
			wantOutcome: AutoBlocked,
			wantReason:  ReasonRiskThresholdExceeded,
		},
		{
			name:        "low confidence escalates",
			in:          input(10, 2, r("a", decision.Approve, 0.5), r("b", decision.Approve, 0.6)),
			wantOutcome: AwaitingHuman,
			wantReason:  ReasonLowConfidence,
		},
		{
			name:        "confident rejection auto-blocks",
			in:          input(10, 2, r("a", decision.Reject, 0.9), r("b", decision.Reject, 0.8)),
			wantOutcome: AutoBlocked,
			wantReason:  ReasonConsensusReject,
		},
		{
			name:        "modify goes to a human",
			in:          input(10, 2, r("a", decision.Modify, 0.9), r("b", decision.Modify, 0.8)),
			wantOutcome: AwaitingHuman,
			wantReason:  ReasonModifyRecommended,
		},
		{
			name: "safety veto outranks the vote",
			in: input(10, 4,
				r("a", decision.Approve, 0.9),
				r("b", decision.Approve, 0.9),
				r("c", decision.Approve, 0.9),
				r("safety", decision.Reject, 0.85)),
			policy:      func(p *Policy) { p.VetoRoles = []string{"safety"} },
			wantOutcome: AwaitingHuman,
			wantReason:  ReasonSafetyVeto,
		},
		{
			name:        "required review holds back an approval",
			in:          input(10, 2, r("a", decision.Approve, 0.9), r("b", decision.Approve, 0.9)),
			policy:      func(p *Policy) { p.RequireHuman = true },
			wantOutcome: AwaitingHuman,
			wantReason:  ReasonHumanReviewRequired,
		},
		{
			name:        "required review leaves rejections blocked",
			in:          input(10, 2, r("a", decision.Reject, 0.9), r("b", decision.Reject, 0.8)),
			policy:      func(p *Policy) { p.RequireHuman = true },
			wantOutcome: AutoBlocked,
			wantReason:  ReasonConsensusReject,
		},
		{
			name:        "veto role approving does not block",
			in:          input(10, 2, r("a", decision.Approve, 0.9), r("safety", decision.Approve, 0.9)),
			policy:      func(p *Policy) { p.VetoRoles = []string{"safety"} },
			wantOutcome: AutoApproved,
			wantReason:  ReasonConsensusApprove,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			if tt.policy != nil {
				tt.policy(&p)
			}
			d := Evaluate(tt.in, p, now)
			if d.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %s, want %s (reasons %v)", d.Outcome, tt.wantOutcome, d.ReasonCodes)
			}
			if len(d.ReasonCodes) == 0 || d.ReasonCodes[0] != tt.wantReason {
				t.Errorf("leading reason = %v, want %s", d.ReasonCodes, tt.wantReason)
			}
			if d.DecidedAt != now || d.RequestID != "req" {
				t.Errorf("unexpected envelope %+v", d)
			}
		})
	}
}

func TestEvaluateAppendsSecondaryReasons(t *testing.T) {
	in := input(10, 3, r("a", decision.Approve, 0.3), r("b", decision.Reject, 0.4))
	d := Evaluate(in, DefaultPolicy(), now)
	want := []Reason{ReasonHighDisagreement, ReasonLowConfidence, ReasonDegradedQuorum}
	if !slices.Equal(d.ReasonCodes, want) {
		t.Fatalf("reasons = %v, want %v", d.ReasonCodes, want)
	}
}

func TestEvaluateSnapshotsPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.RoleWeights = map[string]float64{"safety": 2}
	p.RequireHuman = true
	d := Evaluate(input(10, 1, r("a", decision.Approve, 0.9)), p, now)

	p.RoleWeights["safety"] = 9
	p.RiskThreshold = 1
	p.RequireHuman = false
	if d.EvaluatedThresholds.RoleWeights["safety"] != 2 || d.EvaluatedThresholds.RiskThreshold != 50 || !d.EvaluatedThresholds.RequireHuman {
		t.Fatalf("snapshot mutated through the caller's policy: %+v", d.EvaluatedThresholds)
	}
}

func TestResolve(t *testing.T) {
	pending := Evaluate(input(10, 2, r("a", decision.Approve, 0.8)), DefaultPolicy(), now)
	if pending.Outcome != AwaitingHuman {
		t.Fatalf("setup: expected awaiting_human, got %s", pending.Outcome)
	}

	later := now.Add(time.Hour)
	approved, err := Resolve(pending, ActionApprove, "looks fine", "ops@example.com", later)
	if err != nil {
		t.Fatal(err)
	}
	if approved.Outcome != HumanApproved || approved.Resolution == nil || approved.Resolution.Actor != "ops@example.com" {
		t.Fatalf("unexpected resolution %+v", approved)
	}
	if approved.ReasonCodes[len(approved.ReasonCodes)-1] != ReasonHumanApproved {
		t.Fatalf("expected human reason last, got %v", approved.ReasonCodes)
	}
	if pending.Resolution != nil || len(pending.ReasonCodes) != 1 {
		t.Fatal("Resolve must not mutate its input")
	}

	rejected, err := Resolve(pending, ActionReject, "", "", later)
	if err != nil || rejected.Outcome != HumanRejected {
		t.Fatalf("expected human_rejected, got %s, %v", rejected.Outcome, err)
	}

	// A settled decision cannot be resolved again.
	if _, err := Resolve(approved, ActionReject, "", "", later); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestResolveRejectsNonEscalatedOutcomes(t *testing.T) {
	for _, o := range []Outcome{AutoApproved, AutoBlocked, Undetermined, HumanApproved, HumanRejected} {
		_, err := Resolve(Decision{RequestID: "x", Outcome: o}, ActionApprove, "", "", now)
		if !errors.Is(err, domain.ErrInvalidStateTransition) {
			t.Errorf("%s: expected ErrInvalidStateTransition, got %v", o, err)
		}
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction("approve"); err != nil || a != ActionApprove {
		t.Fatalf("approve: %v %v", a, err)
	}
	if _, err := ParseAction("maybe"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOutcomePredicates(t *testing.T) {
	if AwaitingHuman.IsFinal() || Pending.IsFinal() {
		t.Error("pending states reported final")
	}
	if !HumanApproved.IsFinal() || !Undetermined.IsFinal() {
		t.Error("settled states reported non-final")
	}
	for _, o := range []Outcome{AwaitingHuman, AutoBlocked, Undetermined} {
		if !o.NeedsAttention() {
			t.Errorf("%s should notify", o)
		}
	}
	if AutoApproved.NeedsAttention() {
		t.Error("auto-approval should not notify")
	}
}
