package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/arbiter/internal/adapter/postgres"
	"github.com/Strob0t/arbiter/internal/config"
	"github.com/Strob0t/arbiter/internal/domain/escalation"
	"github.com/Strob0t/arbiter/internal/domain/provenance"
	"github.com/Strob0t/arbiter/internal/port/eventstore"
)

// Compile-time interface check.
var _ eventstore.Store = (*postgres.Store)(nil)

// setupStore migrates the database named by DATABASE_URL and returns a
// store with an empty provenance table, or skips.
func setupStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	pool, err := postgres.NewPool(ctx, config.Postgres{DSN: dsn, MaxConns: 4, MinConns: 1, HealthCheck: time.Minute})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	// The append-only trigger blocks DELETE, so tests start from TRUNCATE.
	if _, err := pool.Exec(ctx, `TRUNCATE provenance_records`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(pool.Close)
	return postgres.NewStore(pool), pool
}

func sealed(t *testing.T, seq uint64, id, prev string) *provenance.Record {
	t.Helper()
	r := &provenance.Record{
		Sequence:   seq,
		Timestamp:  time.Date(2026, 3, 1, 12, int(seq), 0, 0, time.UTC),
		Kind:       provenance.KindDecision,
		RequestID:  id,
		Escalation: escalation.Decision{RequestID: id, Outcome: escalation.AwaitingHuman},
	}
	if err := provenance.Seal(r, prev); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestStoreRoundTripKeepsChainValid(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	prev := ""
	for i, id := range []string{"a", "b", "a"} {
		r := sealed(t, uint64(i+1), id, prev)
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
		prev = r.Hash
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := provenance.VerifyChain(all); err != nil {
		t.Fatalf("chain broken after JSONB round trip: %v", err)
	}

	byReq, err := s.ByRequest(ctx, "a")
	if err != nil || len(byReq) != 2 {
		t.Fatalf("ByRequest = %d %v", len(byReq), err)
	}
	since, err := s.Since(ctx, time.Date(2026, 3, 1, 12, 2, 0, 0, time.UTC))
	if err != nil || len(since) != 2 {
		t.Fatalf("Since = %d %v", len(since), err)
	}
}

func TestStoreRejectsDuplicateSequence(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	if err := s.Append(ctx, sealed(t, 1, "a", "")); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, sealed(t, 1, "b", "")); err == nil {
		t.Fatal("expected primary key violation")
	}
}

func TestStoreIsAppendOnly(t *testing.T) {
	s, pool := setupStore(t)
	ctx := context.Background()
	if err := s.Append(ctx, sealed(t, 1, "a", "")); err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		`UPDATE provenance_records SET outcome = 'auto_approved'`,
		`DELETE FROM provenance_records`,
	} {
		if _, err := pool.Exec(ctx, stmt); err == nil {
			t.Fatalf("expected trigger to reject %s", stmt)
		}
	}
	v, err := postgres.MigrationVersion(ctx, os.Getenv("DATABASE_URL"))
	if err != nil || v < 1 {
		t.Fatalf("MigrationVersion = %d %v", v, err)
	}
}
