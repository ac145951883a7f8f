package starlark

import (
	"fmt"
	"io"
	"strings"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// stderrKey is the thread-local slot holding the cell's stderr writer.
const stderrKey = "starkernel.stderr"

// Predeclared returns the globals every cell and every indexed module sees.
// This includes: struct, module, json, math, time, eprint and, when info is
// non-nil, kernel.
func Predeclared(info *KernelInfo) starlark.StringDict {
	globals := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"module": starlark.NewBuiltin("module", starlarkstruct.MakeModule),
		"json":   json.Module,
		"math":   math.Module,
		"time":   time.Module,
		"eprint": starlark.NewBuiltin("eprint", eprint),
	}

	if info != nil {
		globals["kernel"] = info.ToStarlark()
	}

	return globals
}

// eprint is print for the error stream. Without a writer in thread-local
// storage the output is discarded.
func eprint(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	sep := " "
	if err := starlark.UnpackArgs(b.Name(), nil, kwargs, "sep?", &sep); err != nil {
		return nil, err
	}

	var buf strings.Builder
	for i, v := range args {
		if i > 0 {
			buf.WriteString(sep)
		}
		if s, ok := starlark.AsString(v); ok {
			buf.WriteString(s)
		} else {
			buf.WriteString(v.String())
		}
	}
	buf.WriteByte('\n')

	if w, ok := thread.Local(stderrKey).(io.Writer); ok {
		if _, err := io.WriteString(w, buf.String()); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return starlark.None, nil
}
