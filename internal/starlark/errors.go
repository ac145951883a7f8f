package starlark

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Failure kinds reported by ExecError.
const (
	KindSyntax    = "SyntaxError"
	KindResolve   = "ResolveError"
	KindEval      = "EvalError"
	KindCancelled = "Cancelled"
	KindError     = "Error"
)

// ExecError is a failed cell. It carries the failure kind, the message shown
// to the user, and the stack frames leading to it.
type ExecError struct {
	Kind    string
	Message string
	Frames  []string
	cause   error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecError) Unwrap() error { return e.cause }

// ErrorName is the failure kind.
func (e *ExecError) ErrorName() string { return e.Kind }

// ErrorValue is the user-facing message.
func (e *ExecError) ErrorValue() string { return e.Message }

// Traceback returns the stack frames, innermost last, followed by the
// error line.
func (e *ExecError) Traceback() []string {
	tb := make([]string, 0, len(e.Frames)+2)
	if len(e.Frames) > 0 {
		tb = append(tb, "Traceback (most recent call last):")
		tb = append(tb, e.Frames...)
	}
	return append(tb, e.Error())
}

// newExecError classifies an error returned by the Starlark toolchain.
func newExecError(err error) *ExecError {
	var (
		syntaxErr  syntax.Error
		resolveErr resolve.ErrorList
		evalErr    *starlark.EvalError
	)

	switch {
	case errors.As(err, &syntaxErr):
		return &ExecError{
			Kind:    KindSyntax,
			Message: syntaxErr.Msg,
			Frames:  []string{"  " + syntaxErr.Pos.String()},
			cause:   err,
		}

	case errors.As(err, &resolveErr) && len(resolveErr) > 0:
		frames := make([]string, len(resolveErr))
		msgs := make([]string, len(resolveErr))
		for i, re := range resolveErr {
			frames[i] = fmt.Sprintf("  %s: %s", re.Pos, re.Msg)
			msgs[i] = re.Msg
		}
		return &ExecError{
			Kind:    KindResolve,
			Message: strings.Join(msgs, "; "),
			Frames:  frames,
			cause:   err,
		}

	case errors.As(err, &evalErr):
		kind := KindEval
		if strings.Contains(evalErr.Msg, "computation cancelled") {
			kind = KindCancelled
		}
		frames := make([]string, 0, len(evalErr.CallStack))
		for _, fr := range evalErr.CallStack {
			if fr.Pos.IsValid() {
				frames = append(frames, fmt.Sprintf("  %s: in %s", fr.Pos, fr.Name))
			} else {
				frames = append(frames, fmt.Sprintf("  <builtin>: in %s", fr.Name))
			}
		}
		return &ExecError{
			Kind:    kind,
			Message: evalErr.Msg,
			Frames:  frames,
			cause:   err,
		}

	default:
		return &ExecError{
			Kind:    KindError,
			Message: err.Error(),
			cause:   err,
		}
	}
}

// LoadError represents an error loading a module.
type LoadError struct {
	Module  string
	Message string
	cause   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s", filepath.ToSlash(e.Module), e.Message)
}

func (e *LoadError) Unwrap() error { return e.cause }
