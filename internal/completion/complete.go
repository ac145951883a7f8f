package completion

import (
	"slices"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.starlark.net/starlark"
)

// IndexSource hands out the most recent finished index without blocking.
type IndexSource interface {
	Index() (*Index, bool)
}

// StaticSource serves a fixed index. A nil index is never ready.
type StaticSource struct {
	Ix *Index
}

// Index implements IndexSource.
func (s StaticSource) Index() (*Index, bool) {
	return s.Ix, s.Ix != nil
}

// LocalsFunc returns a snapshot of the interpreter's globals.
type LocalsFunc func() starlark.StringDict

// Completer answers completion queries.
type Completer struct {
	source  IndexSource
	locals  LocalsFunc
	imports []string
}

// NewCompleter creates a completer. The root package "" is always treated
// as imported.
func NewCompleter(source IndexSource, locals LocalsFunc, imports []string) *Completer {
	pkgs := []string{""}
	for _, pkg := range imports {
		if !slices.Contains(pkgs, pkg) {
			pkgs = append(pkgs, pkg)
		}
	}
	return &Completer{source: source, locals: locals, imports: pkgs}
}

// Complete returns the candidates for the dotted name at the end of text and
// that name. ok is false while no index has finished building; matches are
// then empty.
func (c *Completer) Complete(text string) (matches []string, query string, ok bool) {
	query = LastDottedName(text)

	ix, ok := c.source.Index()
	if !ok {
		return []string{}, query, false
	}

	var locals starlark.StringDict
	if c.locals != nil {
		locals = c.locals()
	}

	matches = []string{}
	matches = append(matches, completeLocals(query, locals)...)
	matches = append(matches, completeLocalMembers(query, locals)...)
	matches = append(matches, completeKeywords(query)...)
	matches = append(matches, completePackages(query, ix)...)
	matches = append(matches, completeQualified(query, ix)...)
	matches = append(matches, c.completeImported(query, ix)...)
	matches = append(matches, c.completeImportedMembers(query, ix)...)
	return matches, query, true
}

// Matches reports whether candidate extends prefix. A candidate equal to the
// prefix is not a completion; the empty prefix matches everything else.
func Matches(prefix, candidate string) bool {
	return strings.HasPrefix(candidate, prefix) && candidate != prefix
}

// LastDottedName returns the trailing run of identifier characters and dots
// in text: "x = json.enc" yields "json.enc".
func LastDottedName(text string) string {
	for i := len(text); i > 0; {
		r, size := utf8.DecodeLastRuneInString(text[:i])
		if !isNameRune(r) {
			return text[i:]
		}
		i -= size
	}
	return text
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}

func completeLocals(query string, locals starlark.StringDict) []string {
	var out []string
	for _, name := range locals.Keys() {
		if Matches(query, name) {
			out = append(out, name)
		}
	}
	return out
}

func completeLocalMembers(query string, locals starlark.StringDict) []string {
	parts := strings.Split(query, ".")
	if len(parts) < 2 {
		return nil
	}
	root, ok := locals[parts[0]]
	if !ok {
		return nil
	}
	return resolveChain(root, parts[1:])
}

func completeKeywords(query string) []string {
	var out []string
	for _, kw := range keywords {
		if Matches(query, kw) {
			out = append(out, kw)
		}
	}
	return out
}

func completePackages(query string, ix *Index) []string {
	var out []string
	for _, pkg := range ix.Packages() {
		if Matches(query, pkg) {
			out = append(out, pkg)
		}
	}
	return out
}

// completeQualified handles "pkg.Prefix": the text before the last dot is
// taken as a package key.
func completeQualified(query string, ix *Index) []string {
	i := strings.LastIndexByte(query, '.')
	if i < 0 {
		return nil
	}
	mods, ok := ix.Modules(query[:i])
	if !ok {
		return nil
	}
	prefix := query[i+1:]

	var out []string
	for _, m := range mods {
		if name := m.SimpleName(); Matches(prefix, name) {
			out = append(out, name)
		}
	}
	return out
}

func (c *Completer) completeImported(query string, ix *Index) []string {
	var out []string
	for _, pkg := range c.imports {
		mods, _ := ix.Modules(pkg)
		for _, m := range mods {
			if name := m.SimpleName(); Matches(query, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

func (c *Completer) completeImportedMembers(query string, ix *Index) []string {
	parts := strings.Split(query, ".")
	if len(parts) < 2 {
		return nil
	}
	m, ok := c.importedModule(parts[0], ix)
	if !ok {
		return nil
	}
	return resolveChain(m.Value(), parts[1:])
}

// importedModule finds the first module in the imported packages whose
// simple name is exactly name.
func (c *Completer) importedModule(name string, ix *Index) (*Module, bool) {
	for _, pkg := range c.imports {
		mods, _ := ix.Modules(pkg)
		for _, m := range mods {
			if m.SimpleName() == name {
				return m, true
			}
		}
	}
	return nil, false
}

// resolveChain walks every segment but the last as an exact member name,
// then prefix-matches the last segment against the members of the value
// reached. The result is deduplicated and sorted.
func resolveChain(v starlark.Value, segments []string) []string {
	for _, seg := range segments[:len(segments)-1] {
		next, ok := member(v, seg)
		if !ok {
			return nil
		}
		v = next
	}

	prefix := segments[len(segments)-1]
	fields, methods := Members(v)

	seen := make(map[string]bool)
	var out []string
	for _, name := range append(fields, methods...) {
		if Matches(prefix, name) && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// member returns the attribute name of v if v has exactly that member.
func member(v starlark.Value, name string) (starlark.Value, bool) {
	attrs, ok := v.(starlark.HasAttrs)
	if !ok || !slices.Contains(attrs.AttrNames(), name) {
		return nil, false
	}
	next, err := attrs.Attr(name)
	if err != nil || next == nil {
		return nil, false
	}
	return next, true
}

// Members splits the attributes of v into fields and methods. An attribute
// whose value is callable is a method.
func Members(v starlark.Value) (fields, methods []string) {
	attrs, ok := v.(starlark.HasAttrs)
	if !ok {
		return nil, nil
	}
	for _, name := range attrs.AttrNames() {
		attr, err := attrs.Attr(name)
		if err != nil || attr == nil {
			continue
		}
		if _, callable := attr.(starlark.Callable); callable {
			methods = append(methods, name)
		} else {
			fields = append(fields, name)
		}
	}
	return fields, methods
}
