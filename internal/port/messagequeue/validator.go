package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need to be
// valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectDecisionFinalized, SubjectDecisionResolved:
		var p DecisionEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.RequestID == "" || p.Outcome == "" {
			return fmt.Errorf("schema validation failed for %s: request_id and outcome are required", subject)
		}
	case SubjectResolveCommand:
		var p ResolveCommandPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.RequestID == "" {
			return fmt.Errorf("schema validation failed for %s: request_id is required", subject)
		}
		if p.Decision != "approve" && p.Decision != "reject" {
			return fmt.Errorf("schema validation failed for %s: decision must be approve or reject", subject)
		}
	}
	return nil
}
