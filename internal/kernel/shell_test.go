package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	starctx "github.com/leapstack-labs/starkernel/internal/starlark"
	"github.com/leapstack-labs/starkernel/internal/testutil"
	"github.com/leapstack-labs/starkernel/internal/wire"
)

type shellHarness struct {
	shell *fakeSocket
	iopub *fakeSocket
	sh    *Shell
	done  chan error
}

func startShell(t *testing.T, interp Interpreter, configure func(*ShellConfig)) *shellHarness {
	t.Helper()
	h := &shellHarness{
		shell: newFakeSocket(),
		iopub: newFakeSocket(),
		done:  make(chan error, 1),
	}
	cfg := ShellConfig{
		Shell:       h.shell,
		IOPub:       h.iopub,
		Session:     wire.Session{ID: "kernel-session", Username: "starkernel"},
		Interpreter: interp,
		Info:        DefaultInfo(),
		Logger:      testutil.NewTestLogger(t),
	}
	if configure != nil {
		configure(&cfg)
	}
	h.sh = NewShell(cfg)

	go func() { h.done <- h.sh.Run(context.Background()) }()

	t.Cleanup(func() {
		h.sh.Stop()
		_ = h.shell.Close()
		_ = h.iopub.Close()
		select {
		case err := <-h.done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("shell did not stop")
		}
	})
	return h
}

func (h *shellHarness) send(t *testing.T, msgType string, content wire.Dict) {
	t.Helper()
	h.shell.in <- request(t, msgType, content, "client-id")
}

type fakeCompleter struct {
	matches []string
	query   string
	ready   bool
	got     []string
}

func (c *fakeCompleter) Complete(text string) ([]string, string, bool) {
	c.got = append(c.got, text)
	return c.matches, c.query, c.ready
}

type fakeEntry struct {
	HistoryEntry
	ok bool
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []fakeEntry
	fail    bool
}

func (f *fakeHistory) Record(_ context.Context, line int, source string, ok bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.entries = append(f.entries, fakeEntry{HistoryEntry: HistoryEntry{Session: 1, Line: line, Source: source}, ok: ok})
	return nil
}

func (f *fakeHistory) Tail(_ context.Context, n int) ([]HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.entries) {
		n = len(f.entries)
	}
	var out []HistoryEntry
	for _, e := range f.entries[len(f.entries)-n:] {
		out = append(out, e.HistoryEntry)
	}
	return out, nil
}

func (f *fakeHistory) Range(_ context.Context, _ int64, start, stop int) ([]HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []HistoryEntry
	for _, e := range f.entries {
		if e.Line >= start && (stop <= 0 || e.Line < stop) {
			out = append(out, e.HistoryEntry)
		}
	}
	return out, nil
}

func (f *fakeHistory) lines() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]int, len(f.entries))
	for i, e := range f.entries {
		lines[i] = e.Line
	}
	return lines
}

// plainInterpreter has no output capture and fails with plain errors.
type plainInterpreter struct{}

func (plainInterpreter) Interpret(code string) (string, bool, error) {
	if code == "boom" {
		return "", false, errors.New("exploded")
	}
	return "", false, nil
}

func TestShell_ExecuteSuccess(t *testing.T) {
	h := startShell(t, starctx.New(), nil)

	h.send(t, wire.ExecuteRequest, wire.Dict{"code": "2+2"})

	busy := h.iopub.nextEnvelope(t)
	assert.Equal(t, wire.Status, busy.MsgType())
	assert.Equal(t, wire.StateBusy, busy.Content["execution_state"])

	input := h.iopub.nextEnvelope(t)
	assert.Equal(t, wire.ExecuteInput, input.MsgType())
	assert.Equal(t, "2+2", input.Content["code"])
	assert.EqualValues(t, 1, input.Content["execution_count"])

	result := h.iopub.nextEnvelope(t)
	assert.Equal(t, wire.ExecuteResult, result.MsgType())
	assert.EqualValues(t, 1, result.Content["execution_count"])
	assert.Equal(t, map[string]any{"text/plain": "4"}, result.Content["data"])

	idle := h.iopub.nextEnvelope(t)
	assert.Equal(t, wire.Status, idle.MsgType())
	assert.Equal(t, wire.StateIdle, idle.Content["execution_state"])

	reply := h.shell.nextEnvelope(t)
	assert.Equal(t, wire.ExecuteReply, reply.MsgType())
	assert.Equal(t, wire.StatusOK, reply.Content["status"])
	assert.EqualValues(t, 1, reply.Content["execution_count"])
	assert.Equal(t, [][]byte{[]byte("client-id")}, reply.Identities)
	assert.Equal(t, "req-execute_request", reply.ParentHeader["msg_id"])
	assert.Equal(t, "abc", reply.Metadata["trace"])

	// Every broadcast is parented on the request.
	for _, env := range []*wire.Envelope{busy, input, result, idle} {
		assert.Equal(t, "req-execute_request", env.ParentHeader["msg_id"])
	}

	h.send(t, wire.ExecuteRequest, wire.Dict{"code": "x = 1"})
	assert.Equal(t, wire.StateBusy, h.iopub.nextEnvelope(t).Content["execution_state"])
	assert.EqualValues(t, 2, h.iopub.nextEnvelope(t).Content["execution_count"])
	// No value, so no execute_result.
	assert.Equal(t, wire.StateIdle, h.iopub.nextEnvelope(t).Content["execution_state"])
	assert.EqualValues(t, 2, h.shell.nextEnvelope(t).Content["execution_count"])
}

func TestShell_ExecuteStreams(t *testing.T) {
	h := startShell(t, starctx.New(), nil)

	h.send(t, wire.ExecuteRequest, wire.Dict{"code": "print('hi')\neprint('warn')"})

	assert.Equal(t, wire.Status, h.iopub.nextEnvelope(t).MsgType())
	assert.Equal(t, wire.ExecuteInput, h.iopub.nextEnvelope(t).MsgType())

	stdout := h.iopub.nextEnvelope(t)
	assert.Equal(t, wire.Stream, stdout.MsgType())
	assert.Equal(t, "stdout", stdout.Content["name"])
	assert.Equal(t, "hi\n", stdout.Content["data"])
	assert.Equal(t, "hi\n", stdout.Content["text"])

	stderr := h.iopub.nextEnvelope(t)
	assert.Equal(t, wire.Stream, stderr.MsgType())
	assert.Equal(t, "stderr", stderr.Content["name"])
	assert.Equal(t, "warn\n", stderr.Content["data"])
	assert.Equal(t, "warn\n", stderr.Content["text"])

	assert.Equal(t, wire.StateIdle, h.iopub.nextEnvelope(t).Content["execution_state"])
	assert.Equal(t, wire.StatusOK, h.shell.nextEnvelope(t).Content["status"])
}

func TestShell_ExecuteFailure(t *testing.T) {
	h := startShell(t, starctx.New(), nil)

	h.send(t, wire.ExecuteRequest, wire.Dict{"code": "print('before')\n1 // 0"})

	assert.Equal(t, wire.StateBusy, h.iopub.nextEnvelope(t).Content["execution_state"])
	assert.Equal(t, wire.ExecuteInput, h.iopub.nextEnvelope(t).MsgType())

	stream := h.iopub.nextEnvelope(t)
	assert.Equal(t, wire.Stream, stream.MsgType())
	assert.Equal(t, "stdout", stream.Content["name"])
	assert.Equal(t, "before\n", stream.Content["data"])

	assert.Equal(t, wire.StateIdle, h.iopub.nextEnvelope(t).Content["execution_state"])

	reply := h.shell.nextEnvelope(t)
	assert.Equal(t, wire.StatusError, reply.Content["status"])
	assert.Equal(t, starctx.KindEval, reply.Content["ename"])
	assert.Equal(t, "floored division by zero", reply.Content["evalue"])
	assert.EqualValues(t, 1, reply.Content["execution_count"])
	tb, ok := reply.Content["traceback"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, tb)

	// The counter advances after a failure too.
	h.send(t, wire.ExecuteRequest, wire.Dict{"code": "1"})
	h.iopub.nextEnvelope(t)
	assert.EqualValues(t, 2, h.iopub.nextEnvelope(t).Content["execution_count"])
	assert.EqualValues(t, 2, h.shell.nextEnvelope(t).Content["execution_count"])
}

func TestShell_ExecutePlainError(t *testing.T) {
	h := startShell(t, plainInterpreter{}, nil)

	h.send(t, wire.ExecuteRequest, wire.Dict{"code": "boom"})
	h.iopub.nextEnvelope(t) // busy
	h.iopub.nextEnvelope(t) // execute_input
	assert.Equal(t, wire.StateIdle, h.iopub.nextEnvelope(t).Content["execution_state"])

	reply := h.shell.nextEnvelope(t)
	assert.Equal(t, "Error", reply.Content["ename"])
	assert.Equal(t, "exploded", reply.Content["evalue"])
	assert.Equal(t, []any{}, reply.Content["traceback"])
}

func TestShell_KernelInfo(t *testing.T) {
	h := startShell(t, plainInterpreter{}, nil)

	h.send(t, wire.KernelInfoRequest, wire.Dict{})
	reply := h.shell.nextEnvelope(t)

	assert.Equal(t, wire.KernelInfoReply, reply.MsgType())
	assert.Equal(t, ProtocolVersion, reply.Content["protocol_version"])
	assert.Equal(t, "starlark", reply.Content["language"])
	assert.Equal(t, "starkernel", reply.Content["implementation"])
	info, ok := reply.Content["language_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, ".star", info["file_extension"])
	assert.Equal(t, "kernel-session", reply.Header["session"])
	h.iopub.quiet(t)
}

func TestShell_Complete(t *testing.T) {
	tests := []struct {
		name      string
		completer *fakeCompleter
		content   wire.Dict
		wantText  string
		wantMatch []any
		wantStart int
		wantEnd   int
		wantQuery string
	}{
		{
			name:      "index not ready",
			completer: &fakeCompleter{matches: []string{"ignored"}, ready: false},
			content:   wire.Dict{"text": "fo"},
			wantText:  "fo",
			wantMatch: []any{},
			wantStart: 2,
			wantEnd:   2,
		},
		{
			name:      "ready",
			completer: &fakeCompleter{matches: []string{"foo", "food"}, query: "fo", ready: true},
			content:   wire.Dict{"text": "x = fo"},
			wantText:  "x = fo",
			wantMatch: []any{"foo", "food"},
			wantQuery: "fo",
			wantStart: 4,
			wantEnd:   6,
		},
		{
			name:      "code and cursor",
			completer: &fakeCompleter{matches: []string{"bar"}, query: "ba", ready: true},
			content:   wire.Dict{"code": "ba + rest", "cursor_pos": 2},
			wantText:  "ba",
			wantMatch: []any{"bar"},
			wantQuery: "ba",
			wantStart: 0,
			wantEnd:   2,
		},
		{
			name:      "cursor counts runes",
			completer: &fakeCompleter{ready: true},
			content:   wire.Dict{"code": "é = x", "cursor_pos": 1},
			wantText:  "é",
			wantMatch: []any{},
			wantStart: 1,
			wantEnd:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startShell(t, plainInterpreter{}, func(cfg *ShellConfig) {
				cfg.Completer = tt.completer
			})

			h.send(t, wire.CompleteRequest, tt.content)
			reply := h.shell.nextEnvelope(t)

			assert.Equal(t, wire.CompleteReply, reply.MsgType())
			assert.Equal(t, wire.StatusOK, reply.Content["status"])
			assert.Equal(t, tt.wantMatch, reply.Content["matches"])
			assert.Equal(t, tt.wantQuery, reply.Content["matched_text"])
			assert.EqualValues(t, tt.wantStart, reply.Content["cursor_start"])
			assert.EqualValues(t, tt.wantEnd, reply.Content["cursor_end"])
			assert.Equal(t, []string{tt.wantText}, tt.completer.got)
		})
	}
}

func TestShell_CompleteWithoutCompleter(t *testing.T) {
	h := startShell(t, plainInterpreter{}, nil)

	h.send(t, wire.CompleteRequest, wire.Dict{"text": "x"})
	reply := h.shell.nextEnvelope(t)
	assert.Equal(t, []any{}, reply.Content["matches"])
	assert.Equal(t, wire.StatusOK, reply.Content["status"])
}

func TestShell_UnknownAndMalformed(t *testing.T) {
	logger, logs := testutil.NewCaptureLogger(t)
	h := startShell(t, plainInterpreter{}, func(cfg *ShellConfig) {
		cfg.Logger = logger
	})

	h.shell.in <- [][]byte{[]byte("no delimiter")}
	h.send(t, "comm_open", wire.Dict{})
	h.send(t, wire.ShutdownRequest, wire.Dict{})
	// Without a recorder, history requests are unknown too.
	h.send(t, wire.HistoryRequest, wire.Dict{"hist_access_type": "tail", "n": 1})
	h.send(t, wire.KernelInfoRequest, wire.Dict{})

	// The first reply is for the kernel_info_request.
	assert.Equal(t, wire.KernelInfoReply, h.shell.nextEnvelope(t).MsgType())
	h.shell.quiet(t)
	h.iopub.quiet(t)

	assert.True(t, logs.Contains("failed to parse message"))
	assert.True(t, logs.Contains("msg_type=comm_open"))
	assert.True(t, logs.Contains("msg_type=history_request"))
}

func TestShell_History(t *testing.T) {
	recorder := &fakeHistory{}
	h := startShell(t, starctx.New(), func(cfg *ShellConfig) {
		cfg.History = recorder
	})

	run := func(content wire.Dict) {
		h.send(t, wire.ExecuteRequest, content)
		h.shell.nextEnvelope(t)
	}
	run(wire.Dict{"code": "a = 1"})
	run(wire.Dict{"code": "1 // 0"})
	run(wire.Dict{"code": "b = 2", "store_history": false})
	run(wire.Dict{"code": "c = 3"})

	// Replies are sent before recording; the next request orders after it.
	assert.Eventually(t, func() bool { return len(recorder.lines()) == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{1, 2, 4}, recorder.lines())
	assert.False(t, recorder.entries[1].ok)

	h.send(t, wire.HistoryRequest, wire.Dict{"hist_access_type": "tail", "n": 2})
	reply := h.shell.nextEnvelope(t)
	assert.Equal(t, wire.HistoryReply, reply.MsgType())
	assert.Equal(t, []any{
		[]any{float64(1), float64(2), "1 // 0"},
		[]any{float64(1), float64(4), "c = 3"},
	}, reply.Content["history"])

	h.send(t, wire.HistoryRequest, wire.Dict{"hist_access_type": "range", "session": 0, "start": 1, "stop": 2})
	reply = h.shell.nextEnvelope(t)
	assert.Equal(t, []any{[]any{float64(1), float64(1), "a = 1"}}, reply.Content["history"])

	h.send(t, wire.HistoryRequest, wire.Dict{"hist_access_type": "search"})
	reply = h.shell.nextEnvelope(t)
	assert.Equal(t, []any{}, reply.Content["history"])
}

func TestShell_HistoryErrorsAreLogged(t *testing.T) {
	recorder := &fakeHistory{fail: true}
	logger, logs := testutil.NewCaptureLogger(t)
	h := startShell(t, plainInterpreter{}, func(cfg *ShellConfig) {
		cfg.History = recorder
		cfg.Logger = logger
	})

	h.send(t, wire.ExecuteRequest, wire.Dict{"code": "x"})
	assert.Equal(t, wire.StatusOK, h.shell.nextEnvelope(t).Content["status"])

	h.send(t, wire.KernelInfoRequest, wire.Dict{})
	assert.Equal(t, wire.KernelInfoReply, h.shell.nextEnvelope(t).MsgType())
	assert.True(t, logs.Contains("failed to record history"))
}

func TestPrefixRunes(t *testing.T) {
	tests := []struct {
		s    string
		n    int
		want string
	}{
		{"abc", 0, ""},
		{"abc", 2, "ab"},
		{"abc", 10, "abc"},
		{"héllo", 2, "hé"},
		{"abc", -1, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, prefixRunes(tt.s, tt.n), "%q[:%d]", tt.s, tt.n)
	}
}
