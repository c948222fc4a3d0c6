package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/arbiter/internal/domain"
	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/domain/provenance"
	"github.com/Strob0t/arbiter/internal/port/cache"
	"github.com/Strob0t/arbiter/internal/port/eventstore"
)

// ProvenanceService owns the sequence counter and hash-chain head of the
// audit log. Every append goes through it.
type ProvenanceService struct {
	mu    sync.RWMutex // Lock for appends, RLock for cache fills
	store eventstore.Store
	cache cache.Cache
	seq   uint64
	head  string
	now   func() time.Time
}

// NewProvenanceService creates a ProvenanceService. c may be nil.
func NewProvenanceService(store eventstore.Store, c cache.Cache) *ProvenanceService {
	return &ProvenanceService{store: store, cache: c, now: time.Now}
}

// Recover loads the existing log, restores the sequence counter and chain
// head, and returns the records so callers can rebuild derived state.
// A broken chain is logged, not fatal; Verify reports it in detail.
func (s *ProvenanceService) Recover(ctx context.Context) ([]provenance.Record, error) {
	records, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load provenance log: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq, s.head = 0, ""
	if last, ok := provenance.Latest(records); ok {
		s.seq, s.head = last.Sequence, last.Hash
	}

	if _, verr := provenance.VerifyChain(records); verr != nil {
		slog.Error("provenance chain verification failed", "error", verr)
	}
	slog.Info("provenance log recovered", "records", len(records), "sequence", s.seq)
	return records, nil
}

// Append stamps rec with the next sequence and timestamp, seals it onto
// the chain and persists it. The counter only advances once the store has
// made the record durable. Records carrying a subtask that has not reached
// a final status are refused.
func (s *ProvenanceService) Append(ctx context.Context, rec *provenance.Record) error {
	if !decision.AllTerminal(rec.SubTasks) {
		return fmt.Errorf("%w: request %s has unfinished subtasks %v",
			domain.ErrInvalidStateTransition, rec.RequestID, decision.CountByStatus(rec.SubTasks))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Sequence = s.seq + 1
	rec.Timestamp = s.now().UTC()
	if err := provenance.Seal(rec, s.head); err != nil {
		return fmt.Errorf("seal record: %w", err)
	}
	if err := s.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("append provenance record %d: %w", rec.Sequence, err)
	}
	s.seq, s.head = rec.Sequence, rec.Hash

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.HistoryKey(rec.RequestID)); err != nil {
			slog.Warn("history cache invalidate failed", "request_id", rec.RequestID, "error", err)
		}
	}
	return nil
}

// Sequence returns the last assigned sequence number.
func (s *ProvenanceService) Sequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// History returns every record for requestID ordered by sequence.
func (s *ProvenanceService) History(ctx context.Context, requestID string) ([]provenance.Record, error) {
	key := cache.HistoryKey(requestID)
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var records []provenance.Record
			if err := json.Unmarshal(raw, &records); err == nil {
				return records, nil
			}
		}
	}

	// Hold off appends so a stale read cannot repopulate an invalidated key.
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.store.ByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", requestID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("history %s: %w", requestID, domain.ErrNotFound)
	}

	if s.cache != nil {
		if raw, err := json.Marshal(records); err == nil {
			if err := s.cache.Set(ctx, key, raw, 0); err != nil {
				slog.Debug("history cache fill failed", "request_id", requestID, "error", err)
			}
		}
	}
	return records, nil
}

// Analyze aggregates the records of the last periodDays days.
func (s *ProvenanceService) Analyze(ctx context.Context, periodDays int) (provenance.Stats, error) {
	if periodDays < 1 {
		return provenance.Stats{}, fmt.Errorf("%w: days must be >= 1", domain.ErrValidation)
	}
	until := s.now().UTC()
	since := until.Add(-time.Duration(periodDays) * 24 * time.Hour)

	records, err := s.store.Since(ctx, since)
	if err != nil {
		return provenance.Stats{}, fmt.Errorf("analyze: %w", err)
	}
	return provenance.Analyze(records, since, until), nil
}

// Verify walks the whole hash chain. A broken chain is reported through
// the returned report, not as an error.
func (s *ProvenanceService) Verify(ctx context.Context) (provenance.VerifyReport, error) {
	records, err := s.store.All(ctx)
	if err != nil {
		return provenance.VerifyReport{}, fmt.Errorf("verify: %w", err)
	}
	rep, verr := provenance.VerifyChain(records)
	if verr != nil {
		slog.Warn("provenance chain broken", "broken_at", rep.BrokenAt, "problem", rep.Problem)
	}
	return rep, nil
}
