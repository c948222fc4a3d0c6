// Package consensus reconciles the responses of several advisory providers
// into one weighted verdict and measures how much they disagree.
package consensus

import "github.com/Strob0t/arbiter/internal/domain/decision"

// verdictBand is the half-width of the score band that maps to Modify.
const verdictBand = 0.2

// Result is derived once per request after the dispatch barrier.
type Result struct {
	RequestID               string                  `json:"request_id"`
	AggregateRecommendation decision.Recommendation `json:"aggregate_recommendation"`
	AggregateScore          float64                 `json:"aggregate_score"`
	AggregateConfidence     float64                 `json:"aggregate_confidence"`
	DisagreementScore       float64                 `json:"disagreement_score"`
	ContributingCount       int                     `json:"contributing_count"`
	AbstainedCount          int                     `json:"abstained_count"`
}

// Weights multiplies each role's influence. Missing roles weigh 1.
type Weights map[decision.Role]float64

// For returns the weight for role.
func (w Weights) For(role decision.Role) float64 {
	if v, ok := w[role]; ok && v > 0 {
		return v
	}
	return 1
}

// Compute aggregates the contributing responses of a request that required
// `required` roles. Every role without a response counts as abstained, so
// ContributingCount + AbstainedCount == required.
func Compute(requestID string, required int, responses []decision.Response, weights Weights, metric Metric) Result {
	res := Result{
		RequestID:         requestID,
		ContributingCount: len(responses),
		AbstainedCount:    required - len(responses),
	}
	if len(responses) == 0 {
		res.AggregateRecommendation = decision.Undetermined
		return res
	}

	var sumCSW, sumCW, sumW float64
	for _, r := range responses {
		w := weights.For(r.Role)
		sumCSW += r.Confidence * r.Recommendation.Scalar() * w
		sumCW += r.Confidence * w
		sumW += w
	}

	if sumCW > 0 {
		res.AggregateScore = sumCSW / sumCW
	}
	res.AggregateConfidence = clamp01(sumCW / sumW)
	res.AggregateRecommendation = fromScore(res.AggregateScore)
	res.DisagreementScore = Disagreement(responses, metric)
	return res
}

func fromScore(score float64) decision.Recommendation {
	switch {
	case score > verdictBand:
		return decision.Approve
	case score < -verdictBand:
		return decision.Reject
	default:
		return decision.Modify
	}
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}
