package starlark

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Interpreter runs cells against one persistent set of globals.
//
// Each cell is parsed as a file. When its last statement is a bare
// expression, the statements before it are executed and the expression is
// evaluated separately so its value can be displayed.
type Interpreter struct {
	mu      sync.Mutex
	globals starlark.StringDict
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	cells   int

	current atomic.Pointer[starlark.Thread]

	info     *KernelInfo
	extra    starlark.StringDict
	maxSteps uint64
	load     LoadFunc
	logger   *slog.Logger
}

// Option is a functional option for configuring an Interpreter.
type Option func(*Interpreter)

// WithKernelInfo exposes info as the "kernel" global.
func WithKernelInfo(info *KernelInfo) Option {
	return func(in *Interpreter) {
		in.info = info
	}
}

// WithGlobals seeds additional globals. They may be rebound by cells.
func WithGlobals(globals starlark.StringDict) Option {
	return func(in *Interpreter) {
		in.extra = globals
	}
}

// WithMaxSteps bounds every cell to n execution steps. Zero means unlimited.
func WithMaxSteps(n uint64) Option {
	return func(in *Interpreter) {
		in.maxSteps = n
	}
}

// WithLoad installs the resolver for load() statements.
func WithLoad(load LoadFunc) Option {
	return func(in *Interpreter) {
		in.load = load
	}
}

// WithLogger sets the logger for the interpreter.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Interpreter) {
		in.logger = logger
	}
}

// New creates an interpreter with the predeclared environment in scope.
func New(opts ...Option) *Interpreter {
	in := &Interpreter{}
	for _, opt := range opts {
		opt(in)
	}
	if in.logger == nil {
		in.logger = slog.New(slog.DiscardHandler)
	}

	in.globals = Predeclared(in.info)
	for name, v := range in.extra {
		in.globals[name] = v
	}
	return in
}

// Interpret executes code. It returns the printable form of the value of a
// trailing expression and whether there was one. None is not a value.
// Failures are returned as *ExecError.
func (in *Interpreter) Interpret(code string) (string, bool, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.cells++
	name := fmt.Sprintf("<cell %d>", in.cells)
	start := time.Now()

	f, err := fileOptions.Parse(name, code, 0)
	if err != nil {
		return "", false, newExecError(err)
	}

	thread := newThread(name, threadConfig{
		stdout:   &in.stdout,
		stderr:   &in.stderr,
		maxSteps: in.maxSteps,
		load:     in.load,
	})
	in.current.Store(thread)
	defer in.current.Store(nil)

	defer func() {
		in.logger.Debug("cell finished",
			"cell", name,
			"steps", thread.ExecutionSteps(),
			"duration", time.Since(start))
	}()

	var tail syntax.Expr
	if n := len(f.Stmts); n > 0 {
		if stmt, ok := f.Stmts[n-1].(*syntax.ExprStmt); ok {
			tail = stmt.X
			f.Stmts = f.Stmts[:n-1]
		}
	}

	if len(f.Stmts) > 0 {
		if err := starlark.ExecREPLChunk(f, thread, in.globals); err != nil {
			return "", false, newExecError(err)
		}
	}

	if tail == nil {
		return "", false, nil
	}

	v, err := starlark.EvalExprOptions(fileOptions, thread, tail, in.globals)
	if err != nil {
		return "", false, newExecError(err)
	}
	if v == starlark.None {
		return "", false, nil
	}
	return v.String(), true, nil
}

// Locals returns a snapshot of the current globals.
func (in *Interpreter) Locals() starlark.StringDict {
	in.mu.Lock()
	defer in.mu.Unlock()

	snapshot := make(starlark.StringDict, len(in.globals))
	for name, v := range in.globals {
		snapshot[name] = v
	}
	return snapshot
}

// Flush returns and clears everything printed since the last call.
func (in *Interpreter) Flush() (stdout, stderr string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	stdout, stderr = in.stdout.String(), in.stderr.String()
	in.stdout.Reset()
	in.stderr.Reset()
	return stdout, stderr
}

// Cancel interrupts the running cell, if any. The cell fails with kind
// Cancelled.
func (in *Interpreter) Cancel(reason string) {
	if thread := in.current.Load(); thread != nil {
		thread.Cancel(reason)
	}
}
