package store

import (
	"context"
	"fmt"
	"iter"

	"github.com/roach88/evfsm/internal/eventlog"
)

// Log adapts a Store to eventlog.Log for events of type E.
type Log[E any] struct {
	store  *Store
	codec  eventlog.Codec[E]
	levels eventlog.Levels
}

var (
	_ eventlog.Log[any]  = (*Log[any])(nil)
	_ eventlog.Compactor = (*Log[any])(nil)
)

// NewLog returns a log that encodes events with codec and compacts
// automatically according to levels (Levels{} disables it).
func NewLog[E any](s *Store, codec eventlog.Codec[E], levels eventlog.Levels) (*Log[E], error) {
	if s == nil || codec == nil {
		return nil, fmt.Errorf("store log: store and codec are required")
	}
	if err := levels.Validate(); err != nil {
		return nil, fmt.Errorf("store log: %w", err)
	}
	return &Log[E]{store: s, codec: codec, levels: levels}, nil
}

// Append implements eventlog.Adapter.
//
// When automatic compaction is configured it runs after the append. A failed
// compaction is logged and does not fail the append, which is already
// durable.
func (l *Log[E]) Append(ctx context.Context, key string, event E) (eventlog.Offset, error) {
	value, err := l.codec.Encode(event)
	if err != nil {
		return 0, &eventlog.AdapterError{Op: "append", Key: key, Err: err}
	}

	off, err := l.store.Append(ctx, key, value)
	if err != nil {
		return 0, err
	}

	if l.levels.Enabled() {
		if _, _, err := l.store.CompactLevels(ctx, l.levels); err != nil {
			l.store.logger.Error("automatic compaction failed", "db", l.store.path, "error", err)
		}
	}
	return off, nil
}

// Feed implements eventlog.Feed. Undecodable records end the feed with a
// *eventlog.FeedError.
func (l *Log[E]) Feed(ctx context.Context) iter.Seq2[eventlog.Record[E], error] {
	return func(yield func(eventlog.Record[E], error) bool) {
		var after eventlog.Offset
		for raw, err := range l.store.Records(ctx) {
			if err != nil {
				yield(eventlog.Record[E]{}, err)
				return
			}
			ev, err := l.codec.Decode(raw.Value)
			if err != nil {
				yield(eventlog.Record[E]{}, &eventlog.FeedError{
					After: after,
					Err:   fmt.Errorf("decode offset %d: %w", raw.Offset, err),
				})
				return
			}
			if !yield(eventlog.Record[E]{Key: raw.Key, Event: ev, Offset: raw.Offset}, nil) {
				return
			}
			after = raw.Offset
		}
	}
}

// Compact implements eventlog.Compactor.
func (l *Log[E]) Compact(ctx context.Context, watermark eventlog.Offset) error {
	_, err := l.store.Compact(ctx, watermark)
	return err
}
