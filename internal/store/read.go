package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/roach88/evfsm/internal/eventlog"
)

// RawRecord is a stored record with its encoded value.
type RawRecord struct {
	Key    string
	Value  []byte
	Offset eventlog.Offset

	// Compacted is true for records read from the compacted table.
	Compacted bool
}

// Records yields compacted records by offset, then the log tail by offset.
//
// Rows are read in pages, one query per page, so no connection is held while
// the caller handles a record. A read failure is yielded once as a
// *eventlog.FeedError.
func (s *Store) Records(ctx context.Context) iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		var after eventlog.Offset
		for _, compacted := range []bool{true, false} {
			var cursor eventlog.Offset
			for {
				page, err := s.readPage(ctx, compacted, cursor)
				if err != nil {
					yield(RawRecord{}, &eventlog.FeedError{After: after, Err: err})
					return
				}
				if len(page) == 0 {
					break
				}
				for _, rec := range page {
					if !yield(rec, nil) {
						return
					}
					after = rec.Offset
				}
				cursor = page[len(page)-1].Offset
			}
		}
	}
}

func (s *Store) readPage(ctx context.Context, compacted bool, after eventlog.Offset) ([]RawRecord, error) {
	table := "log"
	if compacted {
		table = "compacted"
	}

	// Deterministic ordering - ORDER BY seq ASC
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, seq, value
		FROM `+table+`
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, int64(after), s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var page []RawRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.Compacted = compacted
		page = append(page, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return page, nil
}

func scanRecord(rows *sql.Rows) (RawRecord, error) {
	var (
		rec RawRecord
		seq int64
	)
	if err := rows.Scan(&rec.Key, &seq, &rec.Value); err != nil {
		return RawRecord{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Offset = eventlog.Offset(seq)
	return rec, nil
}

// Stats reports the shape of the stored log.
//
// LastOffset is the highest offset ever assigned, including offsets whose
// rows were removed by compaction.
func (s *Store) Stats(ctx context.Context) (eventlog.Stats, error) {
	var st eventlog.Stats
	var first, last sql.NullInt64

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(seq) FROM log
	`).Scan(&st.TailRecords, &first); err != nil {
		return st, fmt.Errorf("stats log: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM compacted
	`).Scan(&st.CompactedRecords); err != nil {
		return st, fmt.Errorf("stats compacted: %w", err)
	}

	// sqlite_sequence only exists once a row has been inserted.
	err := s.db.QueryRowContext(ctx, `
		SELECT seq FROM sqlite_sequence WHERE name = 'log'
	`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("stats sequence: %w", err)
	}

	st.FirstTailOffset = eventlog.Offset(first.Int64)
	st.LastOffset = eventlog.Offset(last.Int64)
	return st, nil
}
