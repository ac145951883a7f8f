package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/leapstack-labs/starkernel/internal/wire"
)

// ShellConfig wires the execution channel.
type ShellConfig struct {
	Shell       Socket
	IOPub       Socket
	Session     wire.Session
	Interpreter Interpreter
	Completer   Completer       // optional
	History     HistoryRecorder // optional
	Info        Info
	Logger      *slog.Logger
}

// Shell is the execution channel. It handles one request at a time and owns
// the execution counter.
type Shell struct {
	shell     Socket
	iopub     Socket
	session   wire.Session
	interp    Interpreter
	completer Completer
	history   HistoryRecorder
	info      Info
	logger    *slog.Logger

	stop  atomic.Bool
	busy  sync.Mutex // held while a request is handled
	count int
}

// NewShell creates the execution channel.
func NewShell(cfg ShellConfig) *Shell {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Shell{
		shell:     cfg.Shell,
		iopub:     cfg.IOPub,
		session:   cfg.Session,
		interp:    cfg.Interpreter,
		completer: cfg.Completer,
		history:   cfg.History,
		info:      cfg.Info,
		logger:    logger.With("channel", "shell"),
		count:     1,
	}
}

// Stop asks the loop to return after the current request.
func (s *Shell) Stop() {
	s.stop.Store(true)
}

// Shutdown stops the loop and runs release once no request is in flight.
// release is expected to close the sockets; a request being handled when
// Shutdown is called still gets its reply.
func (s *Shell) Shutdown(release func()) {
	s.Stop()
	s.busy.Lock()
	defer s.busy.Unlock()
	release()
}

// Run serves requests until stopped. A malformed envelope is logged and
// skipped; a failed send is returned. A request received after Stop is
// dropped.
func (s *Shell) Run(ctx context.Context) error {
	for !s.stop.Load() {
		frames, err := s.shell.Recv()
		if err != nil {
			if s.stop.Load() {
				break
			}
			return fmt.Errorf("shell: receive: %w", err)
		}

		if err := s.serve(ctx, frames); err != nil {
			if s.stop.Load() {
				break
			}
			return err
		}
	}
	s.logger.Debug("stopped")
	return nil
}

func (s *Shell) serve(ctx context.Context, frames [][]byte) error {
	s.busy.Lock()
	defer s.busy.Unlock()
	if s.stop.Load() {
		return nil
	}

	req, err := wire.Parse(frames)
	if err != nil {
		s.logger.Warn("failed to parse message", "error", err)
		return nil
	}
	if err := s.handle(ctx, req); err != nil {
		return fmt.Errorf("shell: %s: %w", req.MsgType(), err)
	}
	return nil
}

func (s *Shell) handle(ctx context.Context, req *wire.Envelope) error {
	switch req.Kind() {
	case wire.KindKernelInfo:
		return s.reply(req, wire.KernelInfoReply, s.kernelInfo())
	case wire.KindExecute:
		return s.execute(ctx, req)
	case wire.KindComplete:
		return s.complete(req)
	case wire.KindShutdown:
		// Shutdown is owned by the control channel.
		return nil
	case wire.KindHistory:
		if s.history != nil {
			return s.historyRequest(ctx, req)
		}
	}
	s.logger.Warn("unrecognized message type", "msg_type", req.MsgType())
	return nil
}

func (s *Shell) kernelInfo() wire.Dict {
	return wire.Dict{
		"protocol_version":       ProtocolVersion,
		"implementation":         s.info.Implementation,
		"implementation_version": s.info.ImplementationVersion,
		"language":               s.info.Language,
		"language_version":       s.info.LanguageVersion,
		"language_info": wire.Dict{
			"name":           s.info.Language,
			"version":        s.info.LanguageVersion,
			"mimetype":       s.info.MimeType,
			"file_extension": s.info.FileExtension,
		},
		"banner": s.info.Banner,
		"status": wire.StatusOK,
	}
}

func (s *Shell) execute(ctx context.Context, req *wire.Envelope) error {
	code := req.Content.String("code")
	count := s.count

	if err := s.publish(req, wire.Status, wire.Dict{"execution_state": wire.StateBusy}); err != nil {
		return err
	}
	if err := s.publish(req, wire.ExecuteInput, wire.Dict{"code": code, "execution_count": count}); err != nil {
		return err
	}

	result, hasValue, execErr := s.interp.Interpret(code)

	if err := s.publishOutput(req); err != nil {
		return err
	}

	var content wire.Dict
	if execErr == nil {
		if hasValue {
			if err := s.publish(req, wire.ExecuteResult, wire.Dict{
				"execution_count": count,
				"data":            wire.Dict{"text/plain": result},
				"metadata":        wire.Dict{},
			}); err != nil {
				return err
			}
		}
		content = wire.Dict{
			"status":           wire.StatusOK,
			"execution_count":  count,
			"payload":          []any{},
			"user_expressions": wire.Dict{},
		}
	} else {
		content = errorContent(execErr)
		content["execution_count"] = count
		s.logger.Debug("execution failed", "execution_count", count, "error", execErr)
	}

	if err := s.publish(req, wire.Status, wire.Dict{"execution_state": wire.StateIdle}); err != nil {
		return err
	}
	replyErr := s.reply(req, wire.ExecuteReply, content)

	s.record(ctx, req, count, code, execErr == nil)
	s.count++
	return replyErr
}

func errorContent(err error) wire.Dict {
	name, value, traceback := "Error", err.Error(), []string{}
	if f, ok := err.(Failure); ok {
		name, value = f.ErrorName(), f.ErrorValue()
		if tb := f.Traceback(); tb != nil {
			traceback = tb
		}
	}
	return wire.Dict{
		"status":    wire.StatusError,
		"ename":     name,
		"evalue":    value,
		"traceback": traceback,
	}
}

// publishOutput broadcasts whatever the interpreter printed, if it buffers.
func (s *Shell) publishOutput(req *wire.Envelope) error {
	capture, ok := s.interp.(OutputCapture)
	if !ok {
		return nil
	}
	stdout, stderr := capture.Flush()
	for _, stream := range []struct{ name, text string }{
		{"stdout", stdout},
		{"stderr", stderr},
	} {
		if stream.text == "" {
			continue
		}
		if err := s.publish(req, wire.Stream, wire.Dict{
			"name": stream.name,
			"data": stream.text,
			"text": stream.text,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shell) record(ctx context.Context, req *wire.Envelope, count int, code string, ok bool) {
	if s.history == nil {
		return
	}
	if store, set := req.Content["store_history"].(bool); set && !store {
		return
	}
	if err := s.history.Record(context.WithoutCancel(ctx), count, code, ok); err != nil {
		s.logger.Warn("failed to record history", "execution_count", count, "error", err)
	}
}

func (s *Shell) complete(req *wire.Envelope) error {
	text, ok := req.Content["text"].(string)
	if !ok {
		text = req.Content.String("code")
		if pos, set := req.Content.Int("cursor_pos"); set {
			text = prefixRunes(text, pos)
		}
	}

	matches, query, ready := []string{}, "", false
	if s.completer != nil {
		matches, query, ready = s.completer.Complete(text)
	}
	if !ready || matches == nil {
		matches = []string{}
	}

	end := utf8.RuneCountInString(text)
	return s.reply(req, wire.CompleteReply, wire.Dict{
		"status":       wire.StatusOK,
		"matches":      matches,
		"matched_text": query,
		"cursor_start": end - utf8.RuneCountInString(query),
		"cursor_end":   end,
		"metadata":     wire.Dict{},
	})
}

// prefixRunes returns the first n runes of s. Cursor positions count code
// points, not bytes.
func prefixRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

func (s *Shell) historyRequest(ctx context.Context, req *wire.Envelope) error {
	var (
		entries []HistoryEntry
		err     error
	)
	switch req.Content.String("hist_access_type") {
	case "tail":
		n, _ := req.Content.Int("n")
		entries, err = s.history.Tail(ctx, n)
	case "range":
		session, _ := req.Content.Int("session")
		start, _ := req.Content.Int("start")
		stop, _ := req.Content.Int("stop")
		entries, err = s.history.Range(ctx, int64(session), start, stop)
	}
	if err != nil {
		s.logger.Warn("failed to read history", "error", err)
		entries = nil
	}

	items := make([]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, []any{e.Session, e.Line, e.Source})
	}
	return s.reply(req, wire.HistoryReply, wire.Dict{
		"status":  wire.StatusOK,
		"history": items,
	})
}

func (s *Shell) publish(req *wire.Envelope, msgType string, content wire.Dict) error {
	return send(s.iopub, req.Respond(s.session, msgType, content))
}

func (s *Shell) reply(req *wire.Envelope, msgType string, content wire.Dict) error {
	return send(s.shell, req.Respond(s.session, msgType, content))
}

func send(sock Socket, env *wire.Envelope) error {
	frames, err := env.Serialize()
	if err != nil {
		return err
	}
	if err := sock.Send(frames); err != nil {
		return fmt.Errorf("send %s: %w", env.MsgType(), err)
	}
	return nil
}
