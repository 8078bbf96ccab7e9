package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/roach88/evfsm/internal/eventlog"
)

// Report is the result of Verify.
type Report struct {
	Stats    eventlog.Stats `json:"stats"`
	Records  int            `json:"records"`
	Problems []string       `json:"problems"`
}

// OK reports whether no problems were found.
func (r Report) OK() bool { return len(r.Problems) == 0 }

// Verify reads the feed twice and checks the invariants replay relies on:
//   - compacted keys are unique
//   - every compacted offset is below the first tail offset
//   - offsets strictly increase within each section
//   - no offset exceeds the last assigned offset
//   - both reads yield identical records (deterministic feed)
func (s *Store) Verify(ctx context.Context) (Report, error) {
	var report Report

	st, err := s.Stats(ctx)
	if err != nil {
		return report, err
	}
	report.Stats = st

	first, err := s.drain(ctx)
	if err != nil {
		return report, err
	}
	second, err := s.drain(ctx)
	if err != nil {
		return report, err
	}
	report.Records = len(first)

	problemf := func(format string, args ...any) {
		report.Problems = append(report.Problems, fmt.Sprintf(format, args...))
	}

	keys := make(map[string]bool)
	var prev eventlog.Offset
	var prevCompacted = true
	for _, rec := range first {
		if rec.Compacted {
			if keys[rec.Key] {
				problemf("compacted key %q appears twice", rec.Key)
			}
			keys[rec.Key] = true
			if st.FirstTailOffset > 0 && rec.Offset >= st.FirstTailOffset {
				problemf("compacted offset %d is not below tail offset %d", rec.Offset, st.FirstTailOffset)
			}
		}
		if rec.Compacted == prevCompacted && rec.Offset <= prev {
			problemf("offset %d does not increase after %d", rec.Offset, prev)
		}
		if !rec.Compacted && prevCompacted {
			prevCompacted = false
		}
		if rec.Offset > st.LastOffset {
			problemf("offset %d is beyond last assigned offset %d", rec.Offset, st.LastOffset)
		}
		prev = rec.Offset
	}

	if len(first) != len(second) {
		problemf("feed is not deterministic: %d records then %d", len(first), len(second))
	} else {
		for i := range first {
			a, b := first[i], second[i]
			if a.Key != b.Key || a.Offset != b.Offset || a.Compacted != b.Compacted || !bytes.Equal(a.Value, b.Value) {
				problemf("feed is not deterministic at position %d", i)
				break
			}
		}
	}

	return report, nil
}

func (s *Store) drain(ctx context.Context) ([]RawRecord, error) {
	var out []RawRecord
	for rec, err := range s.Records(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
