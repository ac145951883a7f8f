// Package starlark adapts go.starlark.net to the kernel: a stateful cell
// interpreter with captured output, a parallel module loader used by the
// completion index, and the predeclared environment both share.
package starlark

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// KernelInfo describes the running kernel.
// Exposed as the "kernel" global in every cell.
type KernelInfo struct {
	Implementation string // "starkernel"
	Version        string // build version
	Session        string // wire session id
}

// ToStarlark converts KernelInfo to a Starlark struct value.
func (k *KernelInfo) ToStarlark() starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("kernel"), starlark.StringDict{
		"implementation": starlark.String(k.Implementation),
		"version":        starlark.String(k.Version),
		"session":        starlark.String(k.Session),
	})
}

// GoToStarlark converts a Go value to a Starlark value.
// Supported types: string, int, int64, float64, bool, []string, []any, map[string]any
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case string:
		return starlark.String(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case int64:
		return starlark.MakeInt64(val), nil

	case float64:
		return starlark.Float(val), nil

	case bool:
		return starlark.Bool(val), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			sv, err := GoToStarlark(v)
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// GlobalsFromMap converts a config map into interpreter globals.
func GlobalsFromMap(m map[string]any) (starlark.StringDict, error) {
	globals := make(starlark.StringDict, len(m))
	for name, v := range m {
		sv, err := GoToStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", name, err)
		}
		globals[name] = sv
	}
	return globals, nil
}
