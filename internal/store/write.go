package store

import (
	"context"
	"fmt"

	"github.com/roach88/evfsm/internal/eventlog"
)

// Append inserts one record into the log tail and returns its offset.
// key is normalized before it is stored.
func (s *Store) Append(ctx context.Context, key string, value []byte) (eventlog.Offset, error) {
	key = eventlog.NormalizeKey(key)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO log (key, value)
		VALUES (?, ?)
	`, key, value)
	if err != nil {
		return 0, &eventlog.AdapterError{Op: "append", Key: key, Err: err}
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, &eventlog.AdapterError{Op: "append", Key: key, Err: fmt.Errorf("read offset: %w", err)}
	}
	return eventlog.Offset(seq), nil
}

// CompactResult describes what one compaction did.
type CompactResult struct {
	Watermark eventlog.Offset `json:"watermark"`

	// Promoted is the number of records moved into the compacted table.
	Promoted int64 `json:"promoted"`

	// Removed is the number of log rows deleted, promoted ones included.
	Removed int64 `json:"removed"`
}

// Compact applies the watermark policy in a single transaction:
//
//  1. Every key whose newest log record is at or below watermark has that
//     record upserted into compacted
//  2. Every log record at or below watermark is deleted
//
// Keys with a newer record above the watermark keep their compacted entry,
// if any, unchanged.
func (s *Store) Compact(ctx context.Context, watermark eventlog.Offset) (CompactResult, error) {
	result := CompactResult{Watermark: watermark}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, &eventlog.AdapterError{Op: "compact", Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO compacted (key, seq, value)
		SELECT l.key, l.seq, l.value
		FROM log l
		WHERE l.seq <= ?
		  AND l.seq = (SELECT MAX(seq) FROM log WHERE key = l.key)
		ON CONFLICT(key) DO UPDATE SET seq = excluded.seq, value = excluded.value
	`, int64(watermark))
	if err != nil {
		return result, &eventlog.AdapterError{Op: "compact", Err: fmt.Errorf("promote: %w", err)}
	}
	if result.Promoted, err = res.RowsAffected(); err != nil {
		return result, &eventlog.AdapterError{Op: "compact", Err: err}
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM log WHERE seq <= ?`, int64(watermark))
	if err != nil {
		return result, &eventlog.AdapterError{Op: "compact", Err: fmt.Errorf("truncate: %w", err)}
	}
	if result.Removed, err = res.RowsAffected(); err != nil {
		return result, &eventlog.AdapterError{Op: "compact", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return result, &eventlog.AdapterError{Op: "compact", Err: fmt.Errorf("commit: %w", err)}
	}

	s.logger.Info("log compacted",
		"db", s.path,
		"watermark", int64(watermark),
		"promoted", result.Promoted,
		"removed", result.Removed,
	)
	return result, nil
}

// CompactLevels compacts when the tail holds more than levels.High records,
// leaving the levels.Low newest. It reports whether compaction ran.
func (s *Store) CompactLevels(ctx context.Context, levels eventlog.Levels) (CompactResult, bool, error) {
	st, err := s.Stats(ctx)
	if err != nil {
		return CompactResult{}, false, &eventlog.AdapterError{Op: "compact", Err: err}
	}
	w, due := levels.Watermark(st.TailRecords, st.LastOffset)
	if !due {
		return CompactResult{}, false, nil
	}
	res, err := s.Compact(ctx, w)
	return res, err == nil, err
}
