package decision

import "fmt"

// Status is the lifecycle state of a SubTask.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusSucceeded Status = "succeeded"
	StatusAbstained Status = "abstained"
)

// IsTerminal returns true if the subtask will not change again.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusAbstained
}

// SubTask is one role-scoped unit of work for exactly one provider.
type SubTask struct {
	ID         string   `json:"id"`
	RequestID  string   `json:"request_id"`
	Role       Role     `json:"role"`
	ProviderID string   `json:"provider_id,omitempty"`
	Status     Status   `json:"status"`
	Attempts   int      `json:"attempts"`
	LastError  *Failure `json:"last_error,omitempty"` // most recent classified failure, if any
	Abstain    *Failure `json:"abstain,omitempty"`
}

// Abstained marks the subtask terminal without a usable response.
func (t *SubTask) Abstained(kind ErrorKind, msg string) {
	t.Status = StatusAbstained
	t.Abstain = &Failure{Kind: kind, Message: msg}
}

// AbstainedAtDeadline marks the subtask abstained because the request
// deadline fired, keeping what was known about it when it was cut off.
func (t *SubTask) AbstainedAtDeadline(attempts int, last *Failure) {
	t.Attempts = attempts
	t.LastError = last
	msg := fmt.Sprintf("request deadline exceeded after %d attempt(s)", attempts)
	if last != nil {
		msg += fmt.Sprintf("; last error %s: %s", last.Kind, last.Message)
	}
	t.Abstained(ErrRequestDeadlineExceeded, msg)
}

// AllTerminal reports whether every subtask has reached a final status.
func AllTerminal(tasks []SubTask) bool {
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// CountByStatus tallies subtasks per status.
func CountByStatus(tasks []SubTask) map[Status]int {
	out := make(map[Status]int, 4)
	for _, t := range tasks {
		out[t.Status]++
	}
	return out
}
