package starlark

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// DefaultModuleSteps bounds how long a single module may run while loading.
const DefaultModuleSteps = 1_000_000

// ModuleLoader executes module sources and keeps their exports.
type ModuleLoader struct {
	predeclared starlark.StringDict
	maxSteps    uint64
}

// LoaderOption configures a ModuleLoader.
type LoaderOption func(*ModuleLoader)

// WithModuleSteps sets the per-module execution step budget. Zero disables it.
func WithModuleSteps(n uint64) LoaderOption {
	return func(l *ModuleLoader) {
		l.maxSteps = n
	}
}

// WithModulePredeclared replaces the predeclared environment modules run in.
func WithModulePredeclared(predeclared starlark.StringDict) LoaderOption {
	return func(l *ModuleLoader) {
		l.predeclared = predeclared
	}
}

// NewModuleLoader creates a loader with the shared predeclared environment.
func NewModuleLoader(opts ...LoaderOption) *ModuleLoader {
	l := &ModuleLoader{
		predeclared: Predeclared(nil),
		maxSteps:    DefaultModuleSteps,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load executes src as the module name and returns its exports: every
// global whose name does not start with an underscore. Prints are discarded
// and load() statements are not supported.
func (l *ModuleLoader) Load(name string, src []byte) (starlark.StringDict, error) {
	thread := newThread("load:"+name, threadConfig{maxSteps: l.maxSteps})

	globals, err := starlark.ExecFileOptions(fileOptions, thread, name, src, l.predeclared)
	if err != nil {
		ee := newExecError(err)
		return nil, &LoadError{
			Module:  name,
			Message: fmt.Sprintf("%s: %s", ee.Kind, ee.Message),
			cause:   ee,
		}
	}

	return Exports(globals), nil
}

// Exports filters globals down to the public names.
func Exports(globals starlark.StringDict) starlark.StringDict {
	exports := make(starlark.StringDict, len(globals))
	for name, value := range globals {
		if !strings.HasPrefix(name, "_") {
			exports[name] = value
		}
	}
	return exports
}
