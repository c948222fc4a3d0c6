// Package jsonl implements the provenance event store as an append-only
// JSON Lines file with an in-memory offset index.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Strob0t/arbiter/internal/domain/provenance"
	"github.com/Strob0t/arbiter/internal/port/eventstore"
)

// span locates one record in the file.
type span struct {
	off       int64
	n         int
	seq       uint64
	requestID string
	ts        time.Time
}

// header is the subset of a record decoded while indexing.
type header struct {
	Sequence  uint64    `json:"sequence"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is a file-backed eventstore.Store. Each record is one line; every
// append is fsynced before it is acknowledged.
type Store struct {
	mu    sync.RWMutex
	f     *os.File
	path  string
	size  int64
	spans []span
	byReq map[string][]int // request id -> indexes into spans
}

// Open opens or creates the log at path and indexes existing records.
// A torn final line left by a crash mid-append is cut off; any other
// undecodable line yields eventstore.ErrCorrupt.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o640) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}

	s := &Store{f: f, path: path, byReq: make(map[string][]int)}
	if err := s.index(); err != nil {
		_ = f.Close()
		return nil, err
	}
	slog.Info("provenance log opened", "path", path, "records", len(s.spans))
	return s, nil
}

func (s *Store) index() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek log: %w", err)
	}
	r := bufio.NewReader(s.f)
	var off int64
	line := 0
	for {
		raw, err := r.ReadBytes('\n')
		if len(raw) == 0 && errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read log: %w", err)
		}
		line++
		complete := err == nil

		var h header
		body := bytes.TrimRight(raw, "\n")
		decodeErr := json.Unmarshal(body, &h)
		if !complete && decodeErr == nil {
			// Intact record missing only its newline.
			if _, err := s.f.Write([]byte{'\n'}); err != nil {
				return fmt.Errorf("terminate final line: %w", err)
			}
			raw = append(raw, '\n')
		} else if decodeErr != nil {
			if _, peekErr := r.Peek(1); errors.Is(peekErr, io.EOF) {
				slog.Warn("provenance log has a torn final line, truncating", "path", s.path, "line", line, "offset", off)
				if err := s.f.Truncate(off); err != nil {
					return fmt.Errorf("truncate torn tail: %w", err)
				}
				break
			}
			return fmt.Errorf("%w: line %d: %v", eventstore.ErrCorrupt, line, decodeErr)
		}

		s.add(span{off: off, n: len(body), seq: h.Sequence, requestID: h.RequestID, ts: h.Timestamp})
		off += int64(len(raw))
	}
	s.size = off
	return nil
}

func (s *Store) add(sp span) {
	s.spans = append(s.spans, sp)
	s.byReq[sp.requestID] = append(s.byReq[sp.requestID], len(s.spans)-1)
}

// Append writes rec as one line and fsyncs the file.
func (s *Store) Append(ctx context.Context, rec *provenance.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %d: %w", rec.Sequence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return errors.New("append record: store closed")
	}
	buf := append(body, '\n')
	if _, err := s.f.Write(buf); err != nil {
		// Drop any partial line so the next append starts clean.
		_ = s.f.Truncate(s.size)
		return fmt.Errorf("write record %d: %w", rec.Sequence, err)
	}
	if err := s.f.Sync(); err != nil {
		_ = s.f.Truncate(s.size)
		return fmt.Errorf("sync record %d: %w", rec.Sequence, err)
	}

	s.add(span{off: s.size, n: len(body), seq: rec.Sequence, requestID: rec.RequestID, ts: rec.Timestamp})
	s.size += int64(len(buf))
	return nil
}

// ByRequest returns all records for requestID in log order.
func (s *Store) ByRequest(ctx context.Context, requestID string) ([]provenance.Record, error) {
	s.mu.RLock()
	idx := s.byReq[requestID]
	spans := make([]span, len(idx))
	for i, j := range idx {
		spans[i] = s.spans[j]
	}
	s.mu.RUnlock()
	return s.read(ctx, spans)
}

// Since returns records stamped at or after t.
func (s *Store) Since(ctx context.Context, t time.Time) ([]provenance.Record, error) {
	s.mu.RLock()
	var spans []span
	for _, sp := range s.spans {
		if !sp.ts.Before(t) {
			spans = append(spans, sp)
		}
	}
	s.mu.RUnlock()
	return s.read(ctx, spans)
}

// All returns the whole log.
func (s *Store) All(ctx context.Context) ([]provenance.Record, error) {
	s.mu.RLock()
	spans := append([]span(nil), s.spans...)
	s.mu.RUnlock()
	return s.read(ctx, spans)
}

func (s *Store) read(ctx context.Context, spans []span) ([]provenance.Record, error) {
	s.mu.RLock()
	f := s.f
	s.mu.RUnlock()
	if f == nil {
		return nil, errors.New("read records: store closed")
	}

	out := make([]provenance.Record, 0, len(spans))
	for _, sp := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf := make([]byte, sp.n)
		if _, err := f.ReadAt(buf, sp.off); err != nil {
			return nil, fmt.Errorf("read record %d: %w", sp.seq, err)
		}
		var rec provenance.Record
		if err := json.Unmarshal(buf, &rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", eventstore.ErrCorrupt, sp.seq, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Len returns the number of indexed records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spans)
}

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
