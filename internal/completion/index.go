// Package completion builds the module index and answers completion queries
// over it and over the interpreter's live globals.
package completion

import (
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Module is one successfully loaded module from an archive.
type Module struct {
	// Package is the dot-joined directory of the entry ("" at the archive root).
	Package string

	// Name is the fully-qualified module name, e.g. "net.http.client".
	Name string

	// Archive is the path of the archive the module came from.
	Archive string

	// Exports are the module's public globals.
	Exports starlark.StringDict
}

// SimpleName returns the last segment of the fully-qualified name.
func (m *Module) SimpleName() string {
	if i := strings.LastIndexByte(m.Name, '.'); i >= 0 {
		return m.Name[i+1:]
	}
	return m.Name
}

// Value exposes the module as a Starlark value so member resolution treats
// modules and ordinary values alike.
func (m *Module) Value() starlark.Value {
	return &starlarkstruct.Module{Name: m.Name, Members: m.Exports}
}

// Index maps package names to the modules they contain, in discovery order.
// It is read-only once the build that produced it has finished.
type Index struct {
	packages map[string][]*Module
	byName   map[string]*Module
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		packages: make(map[string][]*Module),
		byName:   make(map[string]*Module),
	}
}

// declare records a package even if none of its modules load.
func (ix *Index) declare(pkg string) {
	if _, ok := ix.packages[pkg]; !ok {
		ix.packages[pkg] = nil
	}
}

// add appends m under its package.
func (ix *Index) add(m *Module) {
	ix.packages[m.Package] = append(ix.packages[m.Package], m)
	if _, dup := ix.byName[m.Name]; !dup {
		ix.byName[m.Name] = m
	}
}

// Packages returns every package name, sorted.
func (ix *Index) Packages() []string {
	names := make([]string, 0, len(ix.packages))
	for name := range ix.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Modules returns the modules of pkg and whether the package is known.
func (ix *Index) Modules(pkg string) ([]*Module, bool) {
	mods, ok := ix.packages[pkg]
	return mods, ok
}

// Lookup finds a module by fully-qualified name. When two archives provide
// the same name, the first one discovered wins.
func (ix *Index) Lookup(name string) (*Module, bool) {
	m, ok := ix.byName[name]
	return m, ok
}

// Len returns the number of loaded modules.
func (ix *Index) Len() int {
	n := 0
	for _, mods := range ix.packages {
		n += len(mods)
	}
	return n
}
