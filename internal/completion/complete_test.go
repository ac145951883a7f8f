package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

func testIndex() *Index {
	ix := NewIndex()
	for _, m := range []*Module{
		{Package: "", Name: "strings", Exports: starlark.StringDict{
			"upper": starlark.NewBuiltin("upper", nil),
			"lower": starlark.NewBuiltin("lower", nil),
			"SEP":   starlark.String(" "),
		}},
		{Package: "", Name: "stats", Exports: starlark.StringDict{
			"mean": starlark.NewBuiltin("mean", nil),
		}},
		{Package: "net.http", Name: "net.http.client", Exports: starlark.StringDict{
			"get":     starlark.NewBuiltin("get", nil),
			"timeout": starlark.MakeInt(30),
		}},
		{Package: "net.http", Name: "net.http.cookies"},
		{Package: "net", Name: "net.url"},
		{Package: "text", Name: "text.format", Exports: starlark.StringDict{
			"options": starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
				"width":  starlark.MakeInt(80),
				"wrap":   starlark.NewBuiltin("wrap", nil),
				"widen":  starlark.NewBuiltin("widen", nil),
				"indent": starlark.String("  "),
			}),
		}},
	} {
		ix.declare(m.Package)
		ix.add(m)
	}
	return ix
}

func testLocals() starlark.StringDict {
	return starlark.StringDict{
		"config": starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"name": starlark.String("demo"),
			"nested": starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
				"depth": starlark.MakeInt(1),
				"dump":  starlark.NewBuiltin("dump", nil),
			}),
			"names": starlark.NewList(nil),
		}),
		"count":   starlark.MakeInt(3),
		"counter": starlark.MakeInt(4),
		"items":   starlark.NewList(nil),
	}
}

func newTestCompleter(imports ...string) *Completer {
	locals := testLocals()
	return NewCompleter(StaticSource{Ix: testIndex()}, func() starlark.StringDict { return locals }, imports)
}

func TestLastDottedName(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"", ""},
		{"x = json.enc", "json.enc"},
		{"foo(bar.baz", "bar.baz"},
		{"a.b.", "a.b."},
		{"print(", ""},
		{"x = ", ""},
		{"my_var.at", "my_var.at"},
		{"plain", "plain"},
		{"é = café.na", "café.na"},
		{"1 + v2.x", "v2.x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LastDottedName(tt.text), "text %q", tt.text)
	}
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("co", "count"))
	assert.False(t, Matches("count", "count"), "identical is not a completion")
	assert.False(t, Matches("x", "count"))
	assert.True(t, Matches("", "anything"), "empty prefix matches non-empty")
	assert.False(t, Matches("", ""))
}

func TestComplete_NotReady(t *testing.T) {
	c := NewCompleter(StaticSource{}, testLocals, nil)

	matches, query, ok := c.Complete("cou")
	assert.False(t, ok)
	assert.Equal(t, "cou", query)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestComplete_Strategies(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		imports []string
		want    []string
	}{
		{
			name: "local names",
			text: "x = cou",
			want: []string{"count", "counter"},
		},
		{
			name: "identical local is excluded",
			text: "counter",
			want: []string{},
		},
		{
			name: "local member chain",
			text: "config.na",
			want: []string{"name", "names"},
		},
		{
			name: "local member chain through exact segments",
			text: "config.nested.d",
			want: []string{"depth", "dump"},
		},
		{
			name: "local member chain with partial middle segment",
			text: "config.nest.d",
			want: []string{},
		},
		{
			name: "builtin type methods",
			text: "items.app",
			want: []string{"append"},
		},
		{
			name: "keywords",
			text: "w",
			want: []string{"while", "with"},
		},
		{
			name: "packages",
			text: "ne",
			want: []string{"net", "net.http"},
		},
		{
			name: "packages and qualified modules",
			text: "net.",
			want: []string{"net.http", "url"},
		},
		{
			name: "qualified modules in a nested package",
			text: "net.http.c",
			want: []string{"client", "cookies"},
		},
		{
			name: "root package is always imported",
			text: "st",
			want: []string{"strings", "stats"},
		},
		{
			name:    "configured imports",
			text:    "cl",
			imports: []string{"net.http"},
			want:    []string{"class", "client"},
		},
		{
			name: "imported module members",
			text: "strings.",
			want: []string{"SEP", "lower", "upper"},
		},
		{
			name:    "imported module member chain",
			text:    "format.options.wi",
			imports: []string{"text"},
			want:    []string{"widen", "width"},
		},
		{
			name: "imported module needs exact simple name",
			text: "string.up",
			want: []string{},
		},
		{
			name: "unknown root",
			text: "nothing.here",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCompleter(tt.imports...)
			matches, _, ok := c.Complete(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, matches)
		})
	}
}

func TestComplete_ConcatenatesWithoutDedup(t *testing.T) {
	locals := starlark.StringDict{
		"strings": starlark.String("shadow"),
		"in_flag": starlark.True,
	}
	c := NewCompleter(StaticSource{Ix: testIndex()}, func() starlark.StringDict { return locals }, nil)

	matches, query, ok := c.Complete("foo(stri")
	require.True(t, ok)
	assert.Equal(t, "stri", query)
	// Once as a local, once as an imported module.
	assert.Equal(t, []string{"strings", "strings"}, matches)

	// Locals come before keywords.
	matches, _, _ = c.Complete("i")
	assert.Equal(t, []string{"in_flag", "if", "in", "import", "is"}, matches)
}

func TestComplete_EmptyQueryMatchesEverything(t *testing.T) {
	c := newTestCompleter()

	matches, query, ok := c.Complete("x = ")
	require.True(t, ok)
	assert.Empty(t, query)

	for _, want := range []string{"count", "items", "while", "net.http", "strings", "stats"} {
		assert.Contains(t, matches, want)
	}
	// The root package has an empty name and never matches.
	assert.NotContains(t, matches, "")
}

func TestMembers(t *testing.T) {
	v := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"field": starlark.MakeInt(1),
		"fn":    starlark.NewBuiltin("fn", nil),
	})

	fields, methods := Members(v)
	assert.Equal(t, []string{"field"}, fields)
	assert.Equal(t, []string{"fn"}, methods)

	fields, methods = Members(starlark.MakeInt(1))
	assert.Nil(t, fields)
	assert.Nil(t, methods)
}

func TestNewCompleter_ImportsDeduplicated(t *testing.T) {
	c := NewCompleter(StaticSource{}, nil, []string{"", "text", "text"})
	assert.Equal(t, []string{"", "text"}, c.imports)
}
