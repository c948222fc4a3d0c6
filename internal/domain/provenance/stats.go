package provenance

import (
	"sort"
	"time"

	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/domain/escalation"
)

// ProviderStats aggregates dispatch results for one provider.
type ProviderStats struct {
	Provider     string  `json:"provider"`
	Calls        int     `json:"calls"`
	Successes    int     `json:"successes"`
	Failures     int     `json:"failures"`
	FailureRate  float64 `json:"failure_rate"`
	Attempts     int     `json:"attempts"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Stats summarises the log over a period.
type Stats struct {
	Since                     time.Time                  `json:"since"`
	Until                     time.Time                  `json:"until"`
	Decisions                 int                        `json:"decisions"`
	Resolutions               int                        `json:"resolutions"`
	ByOutcome                 map[escalation.Outcome]int `json:"by_outcome"`
	FinalOutcomes             map[escalation.Outcome]int `json:"final_outcomes"`
	AverageConfidence         float64                    `json:"average_confidence"`
	AverageResponseConfidence float64                    `json:"average_response_confidence"`
	EscalationRate            float64                    `json:"escalation_rate"` // share needing a human: AwaitingHuman or Undetermined
	OverrideRate              float64                    `json:"override_rate"`
	Abstentions               map[decision.ErrorKind]int `json:"abstentions"`
	Providers                 []ProviderStats            `json:"providers"`
}

// Analyze aggregates every record stamped within [since, until].
func Analyze(records []Record, since, until time.Time) Stats {
	s := Stats{
		Since:         since,
		Until:         until,
		ByOutcome:     map[escalation.Outcome]int{},
		FinalOutcomes: map[escalation.Outcome]int{},
		Abstentions:   map[decision.ErrorKind]int{},
	}

	type providerAcc struct {
		ProviderStats
		latencyTotal int64
	}
	providers := map[string]*providerAcc{}
	provider := func(id string) *providerAcc {
		p, ok := providers[id]
		if !ok {
			p = &providerAcc{ProviderStats: ProviderStats{Provider: id}}
			providers[id] = p
		}
		return p
	}

	latest := map[string]Record{}
	var confSum, respConfSum float64
	var confN, respN, escalated, overrides int

	for _, r := range records {
		if r.Timestamp.Before(since) || r.Timestamp.After(until) {
			continue
		}
		if prev, ok := latest[r.RequestID]; !ok || r.Sequence > prev.Sequence {
			latest[r.RequestID] = r
		}

		if r.Kind == KindResolution {
			s.Resolutions++
			if overridden(r) {
				overrides++
			}
			continue
		}

		s.Decisions++
		s.ByOutcome[r.Escalation.Outcome]++
		switch r.Escalation.Outcome {
		case escalation.AwaitingHuman, escalation.Undetermined:
			escalated++
		}
		if r.Consensus.ContributingCount > 0 {
			confSum += r.Consensus.AggregateConfidence
			confN++
		}

		for _, t := range r.SubTasks {
			if t.Status == decision.StatusAbstained && t.Abstain != nil {
				s.Abstentions[t.Abstain.Kind]++
			}
			if t.ProviderID == "" || (t.Abstain != nil && t.Abstain.Kind == decision.ErrNoProviderAvailable) {
				continue
			}
			p := provider(t.ProviderID)
			p.Calls++
			p.Attempts += t.Attempts
			switch t.Status {
			case decision.StatusSucceeded:
				p.Successes++
			case decision.StatusAbstained:
				p.Failures++
			}
		}
		for _, resp := range r.Responses {
			respConfSum += resp.Confidence
			respN++
			provider(resp.ProviderID).latencyTotal += resp.LatencyMs
		}
	}

	for _, r := range latest {
		s.FinalOutcomes[r.Escalation.Outcome]++
	}
	if confN > 0 {
		s.AverageConfidence = confSum / float64(confN)
	}
	if respN > 0 {
		s.AverageResponseConfidence = respConfSum / float64(respN)
	}
	if s.Decisions > 0 {
		s.EscalationRate = float64(escalated) / float64(s.Decisions)
	}
	if s.Resolutions > 0 {
		s.OverrideRate = float64(overrides) / float64(s.Resolutions)
	}

	s.Providers = make([]ProviderStats, 0, len(providers))
	for _, p := range providers {
		if p.Calls > 0 {
			p.FailureRate = float64(p.Failures) / float64(p.Calls)
		}
		if p.Successes > 0 {
			p.AvgLatencyMs = float64(p.latencyTotal) / float64(p.Successes)
		}
		s.Providers = append(s.Providers, p.ProviderStats)
	}
	sort.Slice(s.Providers, func(i, j int) bool { return s.Providers[i].Provider < s.Providers[j].Provider })
	return s
}

// overridden reports whether the human went against the machine verdict.
func overridden(r Record) bool {
	if r.HumanAction == nil {
		return false
	}
	switch r.Consensus.AggregateRecommendation {
	case decision.Approve:
		return r.HumanAction.Action == escalation.ActionReject
	case decision.Reject:
		return r.HumanAction.Action == escalation.ActionApprove
	}
	return false
}
