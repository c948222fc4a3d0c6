// Package provenance defines the append-only audit record of a decision's
// lifecycle, its hash chain, and aggregate analysis over the log.
package provenance

import (
	"time"

	"github.com/Strob0t/arbiter/internal/domain/consensus"
	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/domain/escalation"
)

// Kind tells which transition a record captures.
type Kind string

const (
	KindDecision   Kind = "decision"
	KindResolution Kind = "resolution"
)

// Record is one immutable log entry. Resolution records repeat the decision
// snapshot and point back at the decision record through PriorSequence.
type Record struct {
	Sequence      uint64                 `json:"sequence"`
	Timestamp     time.Time              `json:"timestamp"`
	Kind          Kind                   `json:"kind"`
	RequestID     string                 `json:"request_id"`
	PriorSequence uint64                 `json:"prior_sequence,omitempty"`
	Request       decision.Request       `json:"request"`
	SubTasks      []decision.SubTask     `json:"subtasks"`
	Responses     []decision.Response    `json:"responses"`
	Consensus     consensus.Result       `json:"consensus"`
	Escalation    escalation.Decision    `json:"escalation"`
	HumanAction   *escalation.Resolution `json:"human_action,omitempty"`
	PrevHash      string                 `json:"prev_hash"`
	Hash          string                 `json:"hash"`
}

// Resolution derives the follow-up record for a human action on prior.
// Sequence, timestamp and hashes are assigned when it is appended.
func Resolution(prior Record, settled escalation.Decision) Record {
	r := prior
	r.Sequence = 0
	r.Kind = KindResolution
	r.PriorSequence = prior.Sequence
	r.Escalation = settled
	r.HumanAction = settled.Resolution
	r.PrevHash, r.Hash = "", ""
	return r
}

// Latest returns the record with the highest sequence, or false if empty.
func Latest(records []Record) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.Sequence > best.Sequence {
			best = r
		}
	}
	return best, true
}
