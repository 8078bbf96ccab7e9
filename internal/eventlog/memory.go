package eventlog

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
)

// Memory is an in-process Log with the same ordering and compaction
// semantics as the durable store. It is safe for concurrent use.
type Memory[E any] struct {
	mu        sync.Mutex
	tail      []Record[E]
	compacted map[string]Record[E]
	levels    Levels
	closed    bool

	// seq hands out offsets. It only moves forward, so offsets are never
	// reused after compaction.
	seq atomic.Int64
}

// NewMemory returns an empty in-memory log.
// levels enables automatic compaction after appends; pass Levels{} to disable.
// It panics when levels fail Validate.
func NewMemory[E any](levels Levels) *Memory[E] {
	if err := levels.Validate(); err != nil {
		panic("eventlog: " + err.Error())
	}
	return &Memory[E]{
		compacted: make(map[string]Record[E]),
		levels:    levels,
	}
}

var (
	_ Log[any]  = (*Memory[any])(nil)
	_ Compactor = (*Memory[any])(nil)
)

// Append records event under key.
func (m *Memory[E]) Append(_ context.Context, key string, event E) (Offset, error) {
	key = NormalizeKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, &AdapterError{Op: "append", Key: key, Err: ErrClosed}
	}

	off := Offset(m.seq.Add(1))
	m.tail = append(m.tail, Record[E]{Key: key, Event: event, Offset: off})

	if w, due := m.levels.Watermark(len(m.tail), off); due {
		m.compactLocked(w)
	}
	return off, nil
}

// Feed yields compacted records by offset, then the tail by offset.
// The sequence works on a snapshot taken when iteration starts.
func (m *Memory[E]) Feed(ctx context.Context) iter.Seq2[Record[E], error] {
	return func(yield func(Record[E], error) bool) {
		records, err := m.snapshot()
		if err != nil {
			yield(Record[E]{}, &FeedError{Err: err})
			return
		}
		var after Offset
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				yield(Record[E]{}, &FeedError{After: after, Err: err})
				return
			}
			if !yield(rec, nil) {
				return
			}
			after = rec.Offset
		}
	}
}

func (m *Memory[E]) snapshot() ([]Record[E], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	out := make([]Record[E], 0, len(m.compacted)+len(m.tail))
	for _, rec := range m.compacted {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Record[E]) int { return cmp.Compare(a.Offset, b.Offset) })
	return append(out, m.tail...), nil
}

// Compact applies the watermark policy described in the package docs.
func (m *Memory[E]) Compact(_ context.Context, watermark Offset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &AdapterError{Op: "compact", Err: ErrClosed}
	}
	m.compactLocked(watermark)
	return nil
}

func (m *Memory[E]) compactLocked(watermark Offset) {
	newest := make(map[string]Record[E], len(m.tail))
	for _, rec := range m.tail {
		newest[rec.Key] = rec
	}

	kept := m.tail[:0:0]
	for _, rec := range m.tail {
		if rec.Offset > watermark {
			kept = append(kept, rec)
			continue
		}
		if newest[rec.Key].Offset == rec.Offset {
			m.compacted[rec.Key] = rec
		}
	}
	m.tail = kept
}

// Stats reports the current shape of the log.
func (m *Memory[E]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		TailRecords:      len(m.tail),
		CompactedRecords: len(m.compacted),
		LastOffset:       Offset(m.seq.Load()),
	}
	if len(m.tail) > 0 {
		st.FirstTailOffset = m.tail[0].Offset
	}
	return st
}

// Close makes further operations fail with ErrClosed.
func (m *Memory[E]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Stats summarizes a log.
type Stats struct {
	TailRecords      int    `json:"tail_records"`
	CompactedRecords int    `json:"compacted_records"`
	FirstTailOffset  Offset `json:"first_tail_offset"`
	LastOffset       Offset `json:"last_offset"`
}
