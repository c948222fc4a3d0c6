package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnparseable marks provider output that could not be read as a verdict.
var ErrUnparseable = errors.New("unparseable provider output")

// lowConfidenceCap bounds the confidence of a verdict whose recommendation
// was not recognised.
const lowConfidenceCap = 0.3

// Verdict is the structured content of one provider answer.
type Verdict struct {
	Recommendation     Recommendation
	Confidence         float64
	Rationale          string
	LowConfidenceParse bool
}

type rawVerdict struct {
	Recommendation *string         `json:"recommendation"`
	Confidence     json.RawMessage `json:"confidence"`
	Rationale      string          `json:"rationale"`
}

// Normalize parses raw provider output into a bounded Verdict. Unknown
// recommendations degrade to a low-confidence Modify; anything that is not
// a JSON verdict returns an error wrapping ErrUnparseable.
func Normalize(raw string) (Verdict, error) {
	body := extractJSON(raw)
	if body == "" {
		return Verdict{}, fmt.Errorf("%w: no JSON object found", ErrUnparseable)
	}

	var rv rawVerdict
	if err := json.Unmarshal([]byte(body), &rv); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if rv.Recommendation == nil {
		return Verdict{}, fmt.Errorf("%w: recommendation missing", ErrUnparseable)
	}

	v := Verdict{Rationale: strings.TrimSpace(rv.Rationale)}
	if v.Rationale == "" {
		v.Rationale = extractReasoning(raw)
	}

	conf, present, err := parseConfidence(rv.Confidence)
	if err != nil {
		return Verdict{}, err
	}
	if !present {
		conf = estimateConfidence(v.Rationale)
	}
	v.Confidence = clamp01(conf)

	switch Recommendation(strings.ToLower(strings.TrimSpace(*rv.Recommendation))) {
	case Approve:
		v.Recommendation = Approve
	case Reject:
		v.Recommendation = Reject
	case Modify:
		v.Recommendation = Modify
	default:
		v.Recommendation = Modify
		v.LowConfidenceParse = true
		v.Confidence = min(v.Confidence, lowConfidenceCap)
	}
	return v, nil
}

// parseConfidence accepts a JSON number or a numeric string. A missing or
// null value is reported as not present.
func parseConfidence(raw json.RawMessage) (float64, bool, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			return f, true, nil
		}
	}
	return 0, false, fmt.Errorf("%w: confidence %s is not numeric", ErrUnparseable, s)
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

var (
	hedgeWords     = []string{"maybe", "might", "possibly", "unsure", "unclear"}
	certaintyWords = []string{"definitely", "clearly", "certainly", "confirmed"}
)

// estimateConfidence derives a confidence from rationale wording when the
// provider did not state one.
func estimateConfidence(rationale string) float64 {
	conf := 0.85
	if len(rationale) < 100 {
		conf *= 0.8
	}
	lower := strings.ToLower(rationale)
	if containsAny(lower, hedgeWords) {
		conf *= 0.9
	}
	if containsAny(lower, certaintyWords) {
		conf *= 1.05
	}
	return min(conf, 0.95)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

var reasoningMarkers = []string{"\n\nReasoning:", "\n\nExplanation:", "\n\nBecause:"}

// extractReasoning returns the text after the first reasoning marker, if any.
func extractReasoning(raw string) string {
	for _, m := range reasoningMarkers {
		if _, after, ok := strings.Cut(raw, m); ok {
			return strings.TrimSpace(after)
		}
	}
	return ""
}

// extractJSON strips markdown code fences and surrounding prose, returning
// the outermost {...} span.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		if idx := strings.LastIndex(rest, "```"); idx >= 0 {
			rest = rest[:idx]
		}
		s = strings.TrimSpace(rest)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
