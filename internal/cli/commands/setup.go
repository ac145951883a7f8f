package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/starkernel/internal/cli/config"
	"github.com/leapstack-labs/starkernel/internal/cli/output"
	"github.com/leapstack-labs/starkernel/internal/completion"
	"github.com/leapstack-labs/starkernel/internal/history"
	"github.com/leapstack-labs/starkernel/internal/kernel"
	starctx "github.com/leapstack-labs/starkernel/internal/starlark"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the loaded configuration.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the current configuration, or the defaults when no
// configuration was loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	cfg, err := config.Load(config.Options{})
	if err != nil {
		return &config.Config{
			Transport:  config.DefaultTransport,
			IP:         config.DefaultIP,
			KernelName: config.DefaultKernelName,
			Index: config.IndexConfig{
				ModuleSuffix:    config.DefaultModuleSuffix,
				ArchiveSuffixes: config.DefaultArchiveSuffixes,
				Debounce:        config.DefaultDebounce,
				MaxSteps:        config.DefaultIndexMaxSteps,
			},
			Log: config.LogConfig{Level: config.DefaultLogLevel},
		}
	}
	return cfg
}

// kernelInfo describes this build for kernel_info replies.
func kernelInfo(version string) kernel.Info {
	info := kernel.DefaultInfo()
	info.ImplementationVersion = version
	info.Banner = fmt.Sprintf("starkernel %s: Starlark for Jupyter", version)
	return info
}

func newBuilder(cfg *config.Config, logger *slog.Logger) *completion.Builder {
	loader := starctx.NewModuleLoader(starctx.WithModuleSteps(cfg.Index.MaxSteps))
	return completion.NewBuilder(
		starctx.NewParallelLoader(loader, cfg.Index.Workers),
		completion.WithModuleSuffix(cfg.Index.ModuleSuffix),
		completion.WithArchiveSuffixes(cfg.Index.ArchiveSuffixes),
		completion.WithBuilderLogger(logger),
	)
}

// newCatalog returns nil when no index root is configured.
func newCatalog(cfg *config.Config, logger *slog.Logger) *completion.Catalog {
	if cfg.Index.Root == "" {
		return nil
	}
	return completion.NewCatalog(newBuilder(cfg, logger), cfg.Index.Root,
		completion.WithDebounce(cfg.Index.Debounce),
		completion.WithCatalogLogger(logger),
	)
}

// session bundles what a kernel or console run needs: the interpreter, its
// completer and the catalog behind load().
type session struct {
	interp    *starctx.Interpreter
	completer *completion.Completer
	catalog   *completion.Catalog
}

// newSession starts the index build and creates the interpreter. The
// catalog is nil when no index root is configured.
func newSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, info *starctx.KernelInfo) (*session, error) {
	globals, err := starctx.GlobalsFromMap(cfg.Starlark.Globals)
	if err != nil {
		return nil, fmt.Errorf("invalid starlark.globals: %w", err)
	}

	opts := []starctx.Option{
		starctx.WithKernelInfo(info),
		starctx.WithGlobals(globals),
		starctx.WithMaxSteps(cfg.Starlark.MaxSteps),
		starctx.WithLogger(logger),
	}

	var source completion.IndexSource = completion.StaticSource{Ix: completion.NewIndex()}
	catalog := newCatalog(cfg, logger)
	if catalog != nil {
		catalog.Start(ctx)
		source = catalog
		opts = append(opts, starctx.WithLoad(catalog.Load))
	}

	interp := starctx.New(opts...)
	return &session{
		interp:    interp,
		completer: completion.NewCompleter(source, interp.Locals, cfg.Completion.Imports),
		catalog:   catalog,
	}, nil
}

// openHistory opens the history database, creating its directory, and
// begins a session for kernelSession.
func openHistory(ctx context.Context, path, kernelSession string) (*history.SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	store := history.NewSQLiteStore()
	if err := store.Open(path); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	if _, err := store.BeginSession(ctx, kernelSession); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openHistoryReadOnly opens an existing history database for reporting.
func openHistoryReadOnly(path string) (*history.SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("history is disabled (history.path is empty)")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no history database at %s: %w", path, err)
	}
	store := history.NewSQLiteStore()
	if err := store.Open(path); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
