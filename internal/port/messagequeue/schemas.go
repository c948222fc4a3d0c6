package messagequeue

import "time"

// DecisionEventPayload is the schema for decisions.finalized and
// decisions.resolved messages.
type DecisionEventPayload struct {
	RequestID   string    `json:"request_id"`
	Title       string    `json:"title,omitempty"`
	Outcome     string    `json:"outcome"`
	ReasonCodes []string  `json:"reason_codes"`
	Score       float64   `json:"aggregate_score"`
	Confidence  float64   `json:"aggregate_confidence"`
	Disagree    float64   `json:"disagreement_score"`
	Sequence    uint64    `json:"sequence"`
	Hash        string    `json:"hash"`
	DecidedAt   time.Time `json:"decided_at"`
	Actor       string    `json:"actor,omitempty"`
}

// ResolveCommandPayload is the schema for commands.resolve messages.
type ResolveCommandPayload struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"` // "approve" | "reject"
	Comment   string `json:"comment,omitempty"`
	Actor     string `json:"actor,omitempty"`
}
