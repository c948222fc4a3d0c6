package consensus

import "github.com/Strob0t/arbiter/internal/domain/decision"

// Metric selects how disagreement is measured.
type Metric string

const (
	// MetricVariance is the population variance of the response scalars.
	// Scalars live in [-1,1], so the variance already lies in [0,1] and an
	// even {+1,-1} split reaches the maximum of 1.
	//
	// Variance ignores confidence, so a response opposing the aggregate can
	// lower it: one confident approval against three weak rejections
	// aggregates to Approve, and a fourth rejection moves the variance from
	// 0.75 to 0.64. It only grows under dissent while nobody has opposed
	// the aggregate yet.
	MetricVariance Metric = "variance"
	// MetricRange is half the largest pairwise difference between scalars.
	// Unlike variance, an opposing response never lowers it.
	MetricRange Metric = "range"
)

// ParseMetric maps a config string onto a Metric, defaulting to variance.
func ParseMetric(s string) Metric {
	if Metric(s) == MetricRange {
		return MetricRange
	}
	return MetricVariance
}

// Disagreement scores how far contributing responses diverge, in [0,1].
// Fewer than two responses score 0; low quorum is penalised by the
// escalation policy instead.
func Disagreement(responses []decision.Response, metric Metric) float64 {
	if len(responses) < 2 {
		return 0
	}
	if metric == MetricRange {
		return spread(responses)
	}
	return variance(responses)
}

func variance(responses []decision.Response) float64 {
	n := float64(len(responses))
	var sum, sumSq float64
	for _, r := range responses {
		s := r.Recommendation.Scalar()
		sum += s
		sumSq += s * s
	}
	mean := sum / n
	return clamp01(sumSq/n - mean*mean)
}

func spread(responses []decision.Response) float64 {
	lo, hi := 1.0, -1.0
	for _, r := range responses {
		s := r.Recommendation.Scalar()
		lo = min(lo, s)
		hi = max(hi, s)
	}
	return clamp01((hi - lo) / 2)
}
