// Package eventstore defines the port interface for the append-only
// provenance log.
package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/Strob0t/arbiter/internal/domain/provenance"
)

// ErrCorrupt is returned when persisted records cannot be decoded.
var ErrCorrupt = errors.New("provenance log corrupt")

// Store is the port interface for appending and loading provenance records.
// Implementations never rewrite or delete records.
type Store interface {
	// Append persists a sealed record. It returns only after the record
	// is durable.
	Append(ctx context.Context, rec *provenance.Record) error

	// ByRequest returns every record for requestID ordered by sequence.
	ByRequest(ctx context.Context, requestID string) ([]provenance.Record, error)

	// Since returns records stamped at or after t, ordered by sequence.
	Since(ctx context.Context, t time.Time) ([]provenance.Record, error)

	// All returns the complete log ordered by sequence.
	All(ctx context.Context) ([]provenance.Record, error)

	// Close releases underlying resources.
	Close() error
}
