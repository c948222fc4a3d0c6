package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ErrChainBroken is returned by VerifyChain when a record does not link to
// its predecessor or its hash does not match its content.
var ErrChainBroken = errors.New("provenance chain broken")

// ComputeHash returns the hex SHA-256 of the record's RFC 8785 canonical
// JSON, computed with the Hash field blanked.
func ComputeHash(r Record) (string, error) {
	r.Hash = ""
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal record %d: %w", r.Sequence, err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize record %d: %w", r.Sequence, err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Seal links r to prevHash and fills in its Hash.
func Seal(r *Record, prevHash string) error {
	r.PrevHash = prevHash
	h, err := ComputeHash(*r)
	if err != nil {
		return err
	}
	r.Hash = h
	return nil
}

// VerifyReport summarises a chain walk.
type VerifyReport struct {
	Records  int    `json:"records"`
	Head     string `json:"head"`
	LastSeq  uint64 `json:"last_sequence"`
	Valid    bool   `json:"valid"`
	BrokenAt uint64 `json:"broken_at,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// VerifyChain checks sequence order, hash links and record hashes.
// records must be in log order.
func VerifyChain(records []Record) (VerifyReport, error) {
	rep := VerifyReport{Records: len(records), Valid: true}
	prev := ""
	var lastSeq uint64
	for _, r := range records {
		fail := func(problem string) (VerifyReport, error) {
			rep.Valid, rep.BrokenAt, rep.Problem = false, r.Sequence, problem
			return rep, fmt.Errorf("%w at sequence %d: %s", ErrChainBroken, r.Sequence, problem)
		}
		if r.Sequence <= lastSeq {
			return fail(fmt.Sprintf("sequence %d does not follow %d", r.Sequence, lastSeq))
		}
		if r.PrevHash != prev {
			return fail("prev_hash does not match predecessor")
		}
		h, err := ComputeHash(r)
		if err != nil {
			return fail(err.Error())
		}
		if h != r.Hash {
			return fail("content hash mismatch")
		}
		prev, lastSeq = r.Hash, r.Sequence
	}
	rep.Head, rep.LastSeq = prev, lastSeq
	return rep, nil
}
