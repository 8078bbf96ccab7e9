package testutil

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"github.com/roach88/evfsm/internal/eventlog"
)

// ErrInjected is the cause carried by injected failures.
var ErrInjected = errors.New("injected failure")

// FailingLog wraps a log and fails appends or feeds on demand.
type FailingLog[E any] struct {
	eventlog.Log[E]

	failAppends atomic.Bool

	// failFeedAfter makes the feed fail after yielding that many records.
	// Negative disables the failure.
	failFeedAfter atomic.Int64
}

// NewFailingLog wraps inner with failures disabled.
func NewFailingLog[E any](inner eventlog.Log[E]) *FailingLog[E] {
	l := &FailingLog[E]{Log: inner}
	l.failFeedAfter.Store(-1)
	return l
}

// FailAppends toggles append failures.
func (l *FailingLog[E]) FailAppends(fail bool) { l.failAppends.Store(fail) }

// FailFeedAfter makes the next feeds fail after n records.
func (l *FailingLog[E]) FailFeedAfter(n int) { l.failFeedAfter.Store(int64(n)) }

// Append implements eventlog.Adapter.
func (l *FailingLog[E]) Append(ctx context.Context, key string, ev E) (eventlog.Offset, error) {
	if l.failAppends.Load() {
		return 0, &eventlog.AdapterError{Op: "append", Key: key, Err: ErrInjected}
	}
	return l.Log.Append(ctx, key, ev)
}

// Feed implements eventlog.Feed.
func (l *FailingLog[E]) Feed(ctx context.Context) iter.Seq2[eventlog.Record[E], error] {
	limit := l.failFeedAfter.Load()
	return func(yield func(eventlog.Record[E], error) bool) {
		var n int64
		var after eventlog.Offset
		for rec, err := range l.Log.Feed(ctx) {
			if limit >= 0 && n == limit {
				yield(eventlog.Record[E]{}, &eventlog.FeedError{After: after, Err: ErrInjected})
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
			n++
			after = rec.Offset
		}
		if limit >= 0 && n == limit {
			yield(eventlog.Record[E]{}, &eventlog.FeedError{After: after, Err: ErrInjected})
		}
	}
}
