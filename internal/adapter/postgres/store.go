package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/arbiter/internal/domain/provenance"
	"github.com/Strob0t/arbiter/internal/port/eventstore"
)

// Store implements eventstore.Store on the provenance_records table.
// The table rejects UPDATE and DELETE through a trigger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts rec; the insert commits before Append returns.
func (s *Store) Append(ctx context.Context, rec *provenance.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", rec.Sequence, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO provenance_records (sequence, request_id, kind, recorded_at, outcome, prior_sequence, prev_hash, hash, record)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		int64(rec.Sequence), rec.RequestID, string(rec.Kind), rec.Timestamp, string(rec.Escalation.Outcome),
		nullIfZero(rec.PriorSequence), rec.PrevHash, rec.Hash, body)
	if err != nil {
		return fmt.Errorf("append record %d: %w", rec.Sequence, err)
	}
	return nil
}

// ByRequest returns all records for requestID ordered by sequence.
func (s *Store) ByRequest(ctx context.Context, requestID string) ([]provenance.Record, error) {
	return s.query(ctx,
		`SELECT record FROM provenance_records WHERE request_id = $1 ORDER BY sequence ASC`, requestID)
}

// Since returns records recorded at or after t.
func (s *Store) Since(ctx context.Context, t time.Time) ([]provenance.Record, error) {
	return s.query(ctx,
		`SELECT record FROM provenance_records WHERE recorded_at >= $1 ORDER BY sequence ASC`, t)
}

// All returns the complete log.
func (s *Store) All(ctx context.Context) ([]provenance.Record, error) {
	return s.query(ctx, `SELECT record FROM provenance_records ORDER BY sequence ASC`)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]provenance.Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query provenance: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (provenance.Record, error) {
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return provenance.Record{}, err
		}
		var rec provenance.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return provenance.Record{}, fmt.Errorf("%w: %v", eventstore.ErrCorrupt, err)
		}
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan provenance: %w", err)
	}
	return out, nil
}

// nullIfZero maps an unset prior sequence to SQL NULL.
func nullIfZero(v uint64) any {
	if v == 0 {
		return nil
	}
	return int64(v)
}
