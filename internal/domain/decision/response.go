package decision

// Response is the terminal, normalized outcome of a succeeded SubTask.
type Response struct {
	SubTaskID          string         `json:"subtask_id"`
	ProviderID         string         `json:"provider_id"`
	Role               Role           `json:"role"`
	Recommendation     Recommendation `json:"recommendation"`
	Confidence         float64        `json:"confidence"`
	Rationale          string         `json:"rationale,omitempty"`
	LatencyMs          int64          `json:"latency_ms"`
	Attempts           int            `json:"attempts"`
	LowConfidenceParse bool           `json:"low_confidence_parse,omitempty"`
	// Error holds the last transient failure when the call succeeded on a retry.
	Error *Failure `json:"error,omitempty"`
}
