package history

import (
	"context"

	"github.com/leapstack-labs/starkernel/internal/kernel"
)

// Recorder serves a store to the kernel: it records executed cells and
// answers history requests with the inputs only.
type Recorder struct {
	store *SQLiteStore
}

var _ kernel.HistoryRecorder = (*Recorder)(nil)

// Recorder returns the kernel-facing view of the store.
func (s *SQLiteStore) Recorder() *Recorder {
	return &Recorder{store: s}
}

// Record stores one executed cell in the current session.
func (r *Recorder) Record(ctx context.Context, line int, source string, ok bool) error {
	return r.store.Record(ctx, line, source, ok)
}

// Tail returns the last n inputs across all sessions, oldest first.
func (r *Recorder) Tail(ctx context.Context, n int) ([]kernel.HistoryEntry, error) {
	entries, err := r.store.Tail(ctx, n)
	if err != nil {
		return nil, err
	}
	return inputs(entries), nil
}

// Range returns the inputs of one session with start <= line < stop.
func (r *Recorder) Range(ctx context.Context, session int64, start, stop int) ([]kernel.HistoryEntry, error) {
	entries, err := r.store.Range(ctx, session, start, stop)
	if err != nil {
		return nil, err
	}
	return inputs(entries), nil
}

func inputs(entries []Entry) []kernel.HistoryEntry {
	out := make([]kernel.HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = kernel.HistoryEntry{Session: e.Session, Line: e.Line, Source: e.Source}
	}
	return out
}
