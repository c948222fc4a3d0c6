package jsonl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/arbiter/internal/domain/escalation"
	"github.com/Strob0t/arbiter/internal/domain/provenance"
	"github.com/Strob0t/arbiter/internal/port/eventstore"
)

// Compile-time interface check.
var _ eventstore.Store = (*Store)(nil)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rec(seq uint64, id string) *provenance.Record {
	return &provenance.Record{
		Sequence:   seq,
		Timestamp:  t0.Add(time.Duration(seq) * time.Hour),
		Kind:       provenance.KindDecision,
		RequestID:  id,
		Escalation: escalation.Decision{RequestID: id, Outcome: escalation.AutoApproved},
		Hash:       "h",
	}
}

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "provenance.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestAppendAndQuery(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "a"} {
		if err := s.Append(ctx, rec(uint64(i+1), id)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.ByRequest(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Sequence != 1 || got[1].Sequence != 3 {
		t.Fatalf("ByRequest = %+v", got)
	}

	none, err := s.ByRequest(ctx, "zzz")
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown request: %v %v", none, err)
	}

	since, err := s.Since(ctx, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 2 || since[0].Sequence != 2 {
		t.Fatalf("Since = %+v", since)
	}

	all, err := s.All(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("All = %d %v", len(all), err)
	}
}

func TestReopenRebuildsIndex(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	_ = s.Append(ctx, rec(1, "a"))
	_ = s.Append(ctx, rec(2, "b"))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()

	if s2.Len() != 2 {
		t.Fatalf("Len = %d", s2.Len())
	}
	if err := s2.Append(ctx, rec(3, "b")); err != nil {
		t.Fatal(err)
	}
	got, _ := s2.ByRequest(ctx, "b")
	if len(got) != 2 || got[1].Sequence != 3 {
		t.Fatalf("ByRequest after reopen = %+v", got)
	}
}

func TestTornTailIsTruncated(t *testing.T) {
	s, path := openTemp(t)
	_ = s.Append(context.Background(), rec(1, "a"))
	_ = s.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString(`{"sequence":2,"request_id":"b","time`)
	_ = f.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Open with torn tail: %v", err)
	}
	defer func() { _ = s2.Close() }()
	if s2.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s2.Len())
	}
	if err := s2.Append(context.Background(), rec(2, "b")); err != nil {
		t.Fatal(err)
	}
	all, err := s2.All(context.Background())
	if err != nil || len(all) != 2 {
		t.Fatalf("All after repair = %d %v", len(all), err)
	}
}

func TestMissingFinalNewlineIsKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jsonl")
	if err := os.WriteFile(path, []byte(`{"sequence":1,"request_id":"a","timestamp":"2026-03-01T12:00:00Z"}`), 0o640); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()
	_ = s.Append(context.Background(), rec(2, "b"))
	all, err := s.All(context.Background())
	if err != nil || len(all) != 2 {
		t.Fatalf("All = %d %v", len(all), err)
	}
}

func TestCorruptMiddleLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jsonl")
	content := `{"sequence":1,"request_id":"a"}` + "\n" + "garbage\n" + `{"sequence":3,"request_id":"c"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, eventstore.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestAppendHonoursContext(t *testing.T) {
	s, _ := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Append(ctx, rec(1, "a")); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if s.Len() != 0 {
		t.Fatal("cancelled append must not be indexed")
	}
}

func TestConcurrentAppends(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Append(ctx, rec(uint64(i+1), "same")); err != nil {
				t.Errorf("Append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.ByRequest(ctx, "same")
	if err != nil || len(got) != 20 {
		t.Fatalf("ByRequest = %d %v", len(got), err)
	}
}

func TestClosedStore(t *testing.T) {
	s, _ := openTemp(t)
	_ = s.Close()
	if err := s.Append(context.Background(), rec(1, "a")); err == nil {
		t.Fatal("expected error after Close")
	}
	if _, err := s.All(context.Background()); err == nil {
		t.Fatal("expected error after Close")
	}
	if err := s.Close(); err != nil {
		t.Fatal("double Close should be a no-op")
	}
}
