package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/evfsm/internal/eventlog"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// appendRaw appends (key, value) pairs and returns their offsets.
func appendRaw(t *testing.T, s *Store, pairs ...string) []eventlog.Offset {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatalf("appendRaw needs key/value pairs")
	}
	var offs []eventlog.Offset
	for i := 0; i < len(pairs); i += 2 {
		off, err := s.Append(context.Background(), pairs[i], []byte(pairs[i+1]))
		if err != nil {
			t.Fatalf("Append(%q) failed: %v", pairs[i], err)
		}
		offs = append(offs, off)
	}
	return offs
}

// feedKeys returns "key@offset" for every record in feed order.
func feedKeys(t *testing.T, s *Store) []string {
	t.Helper()
	recs, err := s.drain(context.Background())
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Key+"@"+string(r.Value))
	}
	return out
}
