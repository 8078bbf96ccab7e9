package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evfsm/internal/eventlog"
)

func TestAppend_AssignsIncreasingOffsets(t *testing.T) {
	s := createTestStore(t)
	offs := appendRaw(t, s, "a", "1", "b", "2", "a", "3")
	assert.Equal(t, []eventlog.Offset{1, 2, 3}, offs)
}

func TestAppend_NormalizesKeys(t *testing.T) {
	s := createTestStore(t)
	appendRaw(t, s, "café", "1", "café", "2")

	_, err := s.Compact(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"café@2"}, feedKeys(t, s))
}

func TestAppend_ClosedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Append(context.Background(), "k", []byte("v"))
	assert.True(t, eventlog.IsAdapterError(err))
}

func TestCompact_WatermarkExample(t *testing.T) {
	s := createTestStore(t)
	appendRaw(t, s, "A", "1", "B", "2", "A", "3", "A", "4")

	res, err := s.Compact(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, CompactResult{Watermark: 3, Promoted: 1, Removed: 3}, res)

	recs, err := s.drain(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, RawRecord{Key: "B", Value: []byte("2"), Offset: 2, Compacted: true}, recs[0])
	assert.Equal(t, RawRecord{Key: "A", Value: []byte("4"), Offset: 4}, recs[1])
}

func TestCompact_KeepsStaleCompactedEntry(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	appendRaw(t, s, "A", "1", "B", "2")
	_, err := s.Compact(ctx, 2)
	require.NoError(t, err)

	appendRaw(t, s, "A", "3", "A", "4")
	_, err = s.Compact(ctx, 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"A@1", "B@2", "A@4"}, feedKeys(t, s))
}

func TestCompact_OverwritesCompactedEntry(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	appendRaw(t, s, "A", "1", "B", "2")
	_, err := s.Compact(ctx, 2)
	require.NoError(t, err)

	appendRaw(t, s, "A", "3", "C", "4")
	_, err = s.Compact(ctx, 4)
	require.NoError(t, err)

	assert.Equal(t, []string{"B@2", "A@3", "C@4"}, feedKeys(t, s))
}

func TestCompact_OffsetsNotReusedAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	appendRaw(t, s, "a", "1", "a", "2", "a", "3")
	_, err = s.Compact(ctx, 3)
	require.NoError(t, err)
	// Drop the compacted row too so both tables are empty.
	_, err = s.db.Exec("DELETE FROM compacted")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	offs := appendRaw(t, s, "a", "4")
	assert.Equal(t, []eventlog.Offset{4}, offs)
}

func TestCompactLevels(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	levels := eventlog.Levels{Low: 1, High: 3}

	appendRaw(t, s, "a", "1", "b", "2", "a", "3")
	_, ran, err := s.CompactLevels(ctx, levels)
	require.NoError(t, err)
	assert.False(t, ran)

	appendRaw(t, s, "c", "4")
	res, ran, err := s.CompactLevels(ctx, levels)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, eventlog.Offset(3), res.Watermark)

	assert.Equal(t, []string{"b@2", "a@3", "c@4"}, feedKeys(t, s))
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TailRecords)
	assert.Equal(t, 2, st.CompactedRecords)
}
