// Package testutil provides test loggers that route slog records to t.Log.
package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// NewTestLogger returns a logger that writes to t.Log().
// Logs only appear on test failure or when running with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// LogBuffer collects log output for assertions. It is safe for use by the
// goroutines a test starts.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// String returns everything logged so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Contains reports whether any logged line contains s.
func (b *LogBuffer) Contains(s string) bool {
	return strings.Contains(b.String(), s)
}

func (b *LogBuffer) write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
}

// NewCaptureLogger is NewTestLogger that also keeps a copy of every record.
func NewCaptureLogger(t testing.TB) (*slog.Logger, *LogBuffer) {
	t.Helper()
	captured := &LogBuffer{}
	logger := slog.New(slog.NewTextHandler(testWriter{t: t, capture: captured}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return logger, captured
}

type testWriter struct {
	t       testing.TB
	capture *LogBuffer
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	if w.capture != nil {
		w.capture.write(p)
	}
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
