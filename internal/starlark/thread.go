package starlark

import (
	"context"
	"io"
	"runtime"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"golang.org/x/sync/errgroup"
)

// fileOptions enables the dialect features interactive users expect:
// top-level control flow, rebinding globals, sets and recursion. Loaded
// names become globals so they survive into later cells.
var fileOptions = &syntax.FileOptions{
	Set:               true,
	While:             true,
	TopLevelControl:   true,
	GlobalReassign:    true,
	Recursion:         true,
	LoadBindsGlobally: true,
}

// LoadFunc resolves a load() statement.
type LoadFunc func(thread *starlark.Thread, module string) (starlark.StringDict, error)

// threadConfig is everything needed to build one execution thread.
type threadConfig struct {
	stdout   io.Writer
	stderr   io.Writer
	maxSteps uint64
	load     LoadFunc
}

// newThread creates a fresh thread. Threads are never reused: step counts
// and cancellation are sticky.
func newThread(name string, cfg threadConfig) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			if cfg.stdout == nil {
				return
			}
			_, _ = io.WriteString(cfg.stdout, msg+"\n")
		},
		Load: cfg.load,
	}
	if cfg.stderr != nil {
		thread.SetLocal(stderrKey, cfg.stderr)
	}
	if cfg.maxSteps > 0 {
		thread.SetMaxExecutionSteps(cfg.maxSteps)
	}
	return thread
}

// LoadTask is one module source to execute.
type LoadTask struct {
	Name   string // fully-qualified module name, used for error reporting
	Source []byte
}

// LoadResult is the outcome of a LoadTask.
type LoadResult struct {
	Name    string
	Exports starlark.StringDict
	Error   error
}

// ParallelLoader runs many module loads at once with bounded concurrency.
type ParallelLoader struct {
	loader *ModuleLoader
	limit  int
}

// NewParallelLoader creates a parallel loader. A non-positive limit uses
// GOMAXPROCS.
func NewParallelLoader(loader *ModuleLoader, limit int) *ParallelLoader {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	return &ParallelLoader{loader: loader, limit: limit}
}

// Execute loads every task and returns results in task order. Individual
// failures are reported per result; only ctx cancellation stops the batch.
func (p *ParallelLoader) Execute(ctx context.Context, tasks []LoadTask) ([]LoadResult, error) {
	results := make([]LoadResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)

	for i, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			exports, err := p.loader.Load(task.Name, task.Source)
			results[i] = LoadResult{
				Name:    task.Name,
				Exports: exports,
				Error:   err,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
