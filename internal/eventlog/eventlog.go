package eventlog

import (
	"context"
	"fmt"
	"iter"
	"reflect"

	"golang.org/x/text/unicode/norm"
)

// Offset is the position of a record in the log.
// The first appended record has offset 1.
type Offset int64

// Record is one persisted event together with its compaction key.
type Record[E any] struct {
	Key    string
	Event  E
	Offset Offset
}

// Adapter persists events emitted by a machine.
type Adapter[E any] interface {
	// Append durably records event under key and returns its offset.
	// Failures are reported as *AdapterError.
	Append(ctx context.Context, key string, event E) (Offset, error)
}

// Feed yields the history a machine replays on start.
//
// Every call returns a fresh, finite sequence. A read failure is yielded once
// as a *FeedError, after which the sequence ends.
type Feed[E any] interface {
	Feed(ctx context.Context) iter.Seq2[Record[E], error]
}

// Log is a backing store that can both append and replay.
type Log[E any] interface {
	Adapter[E]
	Feed[E]
}

// Compactor drops superseded history at or below a watermark.
type Compactor interface {
	Compact(ctx context.Context, watermark Offset) error
}

// Keyed is implemented by events that choose their own compaction key.
type Keyed interface {
	CompactionKey() string
}

// KeyFunc derives the compaction key of an event.
type KeyFunc[E any] func(E) string

// KeyOf returns the normalized compaction key of ev.
//
// fn wins when non-nil. Otherwise events implementing Keyed supply their own
// key and anything else is keyed by its variant name, so that only the newest
// event of each variant survives compaction.
func KeyOf[E any](ev E, fn KeyFunc[E]) string {
	if fn != nil {
		return NormalizeKey(fn(ev))
	}
	if k, ok := any(ev).(Keyed); ok {
		return NormalizeKey(k.CompactionKey())
	}
	return NormalizeKey(VariantName(ev))
}

// NormalizeKey returns key in Unicode NFC.
func NormalizeKey(key string) string {
	return norm.NFC.String(key)
}

// VariantName returns the unqualified type name of v's dynamic type.
// Pointer variants are named after their element type.
func VariantName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Drain reads a whole feed into memory.
// Used by tools that need the full history at once (inspect, verify, tests).
func Drain[E any](ctx context.Context, f Feed[E]) ([]Record[E], error) {
	var out []Record[E]
	for rec, err := range f.Feed(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Levels configures automatic compaction.
//
// When the log tail holds more than High records the store compacts with
// watermark last-Low, leaving the Low newest records in the tail.
// The zero value disables automatic compaction.
type Levels struct {
	Low  int `yaml:"low" json:"low"`
	High int `yaml:"high" json:"high"`
}

// Enabled reports whether automatic compaction is configured.
func (l Levels) Enabled() bool {
	return l.High > 0
}

// Validate checks that the levels are usable.
func (l Levels) Validate() error {
	if !l.Enabled() {
		return nil
	}
	if l.Low < 0 {
		return fmt.Errorf("low level must be >= 0, got %d", l.Low)
	}
	if l.Low >= l.High {
		return fmt.Errorf("low level (%d) must be below high level (%d)", l.Low, l.High)
	}
	return nil
}

// Watermark returns the compaction watermark for a tail of tailLen records
// ending at last, and whether compaction is due.
func (l Levels) Watermark(tailLen int, last Offset) (Offset, bool) {
	if !l.Enabled() || tailLen <= l.High {
		return 0, false
	}
	return last - Offset(l.Low), true
}
