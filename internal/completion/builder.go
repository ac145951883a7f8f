package completion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	starctx "github.com/leapstack-labs/starkernel/internal/starlark"
)

// Defaults for the suffixes the builder recognizes.
const (
	DefaultModuleSuffix = ".star"
	maxModuleSize       = 4 << 20
)

// DefaultArchiveSuffixes are the file suffixes treated as module archives.
var DefaultArchiveSuffixes = []string{".zip", ".jar"}

// Builder produces an Index from a root path.
type Builder struct {
	loader          *starctx.ParallelLoader
	moduleSuffix    string
	archiveSuffixes []string
	logger          *slog.Logger
}

// BuilderOption is a functional option for configuring a Builder.
type BuilderOption func(*Builder)

// WithModuleSuffix sets the entry suffix that marks a module.
func WithModuleSuffix(suffix string) BuilderOption {
	return func(b *Builder) {
		if suffix != "" {
			b.moduleSuffix = suffix
		}
	}
}

// WithArchiveSuffixes sets the file suffixes treated as archives.
func WithArchiveSuffixes(suffixes []string) BuilderOption {
	return func(b *Builder) {
		if len(suffixes) > 0 {
			b.archiveSuffixes = suffixes
		}
	}
}

// WithBuilderLogger sets the logger for the builder.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a builder that loads modules with loader.
func NewBuilder(loader *starctx.ParallelLoader, opts ...BuilderOption) *Builder {
	b := &Builder{
		loader:          loader,
		moduleSuffix:    DefaultModuleSuffix,
		archiveSuffixes: DefaultArchiveSuffixes,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

// IsArchive reports whether path carries one of the archive suffixes.
func (b *Builder) IsArchive(path string) bool {
	for _, suffix := range b.archiveSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// Build indexes root. If root is an archive it is read directly; if it is a
// directory every archive beneath it is read, breadth first. Unreadable
// directories, archives and modules are skipped. The only error returned is
// ctx's.
func (b *Builder) Build(ctx context.Context, root string) (*Index, error) {
	ix := NewIndex()

	info, err := os.Stat(root)
	if err != nil {
		b.logger.Warn("index root not accessible", "root", root, "error", err)
		return ix, nil
	}

	if !info.IsDir() {
		if b.IsArchive(root) {
			if err := b.indexArchive(ctx, root, ix); err != nil {
				return nil, err
			}
		}
		return ix, nil
	}

	queue := []string{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			b.logger.Warn("skipping unreadable directory", "dir", dir, "error", err)
			continue
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			switch {
			case entry.IsDir():
				queue = append(queue, path)
			case b.IsArchive(path):
				if err := b.indexArchive(ctx, path, ix); err != nil {
					return nil, err
				}
			}
		}
	}

	b.logger.Debug("index built", "root", root, "packages", len(ix.packages), "modules", ix.Len())
	return ix, nil
}

// indexArchive adds the modules of one archive to ix. Open failures abort
// only this archive.
func (b *Builder) indexArchive(ctx context.Context, path string, ix *Index) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		b.logger.Warn("skipping unreadable archive", "archive", path, "error", err)
		return nil
	}
	defer func() { _ = zr.Close() }()

	var tasks []starctx.LoadTask
	var packages []string

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, b.moduleSuffix) {
			continue
		}

		pkg, name := moduleNames(f.Name, b.moduleSuffix)
		ix.declare(pkg)

		src, err := readEntry(f)
		if err != nil {
			b.logger.Debug("skipping unreadable module", "archive", path, "module", name, "error", err)
			continue
		}

		tasks = append(tasks, starctx.LoadTask{Name: name, Source: src})
		packages = append(packages, pkg)
	}

	results, err := b.loader.Execute(ctx, tasks)
	if err != nil {
		return err
	}

	for i, result := range results {
		if result.Error != nil {
			b.logger.Debug("skipping module", "archive", path, "module", result.Name, "error", result.Error)
			continue
		}
		ix.add(&Module{
			Package: packages[i],
			Name:    result.Name,
			Archive: path,
			Exports: result.Exports,
		})
	}
	return nil
}

// moduleNames derives the package and fully-qualified module name of an
// archive entry: "a/b/c.star" is module "a.b.c" in package "a.b".
func moduleNames(entry, suffix string) (pkg, name string) {
	segments := strings.Split(strings.TrimSuffix(entry, suffix), "/")
	return strings.Join(segments[:len(segments)-1], "."), strings.Join(segments, ".")
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxModuleSize {
		return nil, fmt.Errorf("module is %d bytes, limit is %d", f.UncompressedSize64, maxModuleSize)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(io.LimitReader(rc, maxModuleSize))
}
