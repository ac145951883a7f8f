package completion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.starlark.net/starlark"

	"github.com/leapstack-labs/starkernel/internal/promise"
)

// DefaultDebounce is how long the watcher waits for archive changes to
// settle before rebuilding.
const DefaultDebounce = 250 * time.Millisecond

// Catalog owns the background index build for one root and hands out the
// latest finished index.
type Catalog struct {
	builder  *Builder
	root     string
	debounce time.Duration
	logger   *slog.Logger

	gen     atomic.Uint64
	pending atomic.Pointer[promise.Promise[*Index]]
	ready   atomic.Pointer[builtIndex]
}

// builtIndex is a finished index tagged with the Start that produced it.
type builtIndex struct {
	gen uint64
	ix  *Index
}

// errSuperseded is returned by a build that finished after a newer one.
var errSuperseded = errors.New("completion: build superseded by a newer one")

// CatalogOption is a functional option for configuring a Catalog.
type CatalogOption func(*Catalog)

// WithDebounce sets the watcher debounce interval.
func WithDebounce(d time.Duration) CatalogOption {
	return func(c *Catalog) {
		c.debounce = d
	}
}

// WithCatalogLogger sets the logger for the catalog.
func WithCatalogLogger(logger *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// NewCatalog creates a catalog for root. Nothing is built until Start.
func NewCatalog(builder *Builder, root string, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		builder:  builder,
		root:     root,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Root returns the indexed path.
func (c *Catalog) Root() string {
	return c.root
}

// Start launches a background build and returns its promise. A build still
// running from an earlier Start is canceled.
func (c *Catalog) Start(ctx context.Context) *promise.Promise[*Index] {
	gen := c.gen.Add(1)
	p := promise.Go(ctx, func(ctx context.Context) (*Index, error) {
		start := time.Now()
		ix, err := c.builder.Build(ctx, c.root)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !c.publish(gen, ix) {
			return nil, errSuperseded
		}
		c.logger.Info("completion index ready",
			"root", c.root,
			"modules", ix.Len(),
			"duration", time.Since(start))
		return ix, nil
	})

	if prev := c.pending.Swap(p); prev != nil {
		prev.Cancel()
	}
	return p
}

// publish makes ix the ready index unless a newer build already published.
func (c *Catalog) publish(gen uint64, ix *Index) bool {
	next := &builtIndex{gen: gen, ix: ix}
	for {
		cur := c.ready.Load()
		if cur != nil && cur.gen > gen {
			return false
		}
		if c.ready.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Index returns the newest finished index without blocking. While a rebuild
// runs the previous index keeps serving.
func (c *Catalog) Index() (*Index, bool) {
	if p := c.pending.Load(); p != nil {
		if ix, ok := p.Poll(); ok {
			return ix, true
		}
	}
	if b := c.ready.Load(); b != nil {
		return b.ix, true
	}
	return nil, false
}

// Wait blocks until the current build finishes.
func (c *Catalog) Wait(ctx context.Context) (*Index, error) {
	p := c.pending.Load()
	if p == nil {
		return nil, fmt.Errorf("completion: catalog for %s was never started", c.root)
	}
	return p.Wait(ctx)
}

// Load resolves a load() statement against the ready index. The module may
// be named "pkg.mod" or "pkg/mod.star".
func (c *Catalog) Load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	ix, ok := c.Index()
	if !ok {
		return nil, fmt.Errorf("module index for %s is still building", c.root)
	}

	name := strings.ReplaceAll(strings.TrimSuffix(module, c.builder.moduleSuffix), "/", ".")
	m, ok := ix.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("module %q not found in index", module)
	}
	return m.Exports, nil
}

// Watch rebuilds the index whenever an archive under the root changes. It
// blocks until ctx is canceled.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("completion: create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	info, err := os.Stat(c.root)
	switch {
	case err != nil:
		return fmt.Errorf("completion: watch %s: %w", c.root, err)
	case info.IsDir():
		if err := watchDirRecursive(watcher, c.root); err != nil {
			c.logger.Error("failed to watch index root", "root", c.root, "error", err)
		}
	default:
		if err := watcher.Add(filepath.Dir(c.root)); err != nil {
			return fmt.Errorf("completion: watch %s: %w", c.root, err)
		}
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() && info.IsDir() {
					_ = watchDirRecursive(watcher, event.Name)
					continue
				}
			}

			if !c.relevant(event, info.IsDir()) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(c.debounce, func() {
				c.logger.Debug("archive changed, rebuilding index", "file", event.Name)
				c.Start(ctx)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("watcher error", "error", err)
		}
	}
}

func (c *Catalog) relevant(event fsnotify.Event, rootIsDir bool) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if !rootIsDir {
		return filepath.Clean(event.Name) == filepath.Clean(c.root)
	}
	return c.builder.IsArchive(event.Name)
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
