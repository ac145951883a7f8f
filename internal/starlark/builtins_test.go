package starlark

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestPredeclared(t *testing.T) {
	globals := Predeclared(&KernelInfo{Implementation: "starkernel"})

	for _, name := range []string{"struct", "module", "json", "math", "time", "eprint", "kernel"} {
		_, ok := globals[name]
		assert.True(t, ok, "%s not found in predeclared", name)
	}
}

func TestPredeclared_NilInfo(t *testing.T) {
	globals := Predeclared(nil)

	_, ok := globals["kernel"]
	assert.False(t, ok, "kernel should not be predeclared without info")
	_, ok = globals["json"]
	assert.True(t, ok)
}

func TestEprint(t *testing.T) {
	var stderr bytes.Buffer
	thread := newThread("eprint", threadConfig{stderr: &stderr})

	_, err := starlark.ExecFileOptions(fileOptions, thread, "t.star",
		`eprint("a", 1, sep="-")
eprint("b")`, Predeclared(nil))
	require.NoError(t, err)
	assert.Equal(t, "a-1\nb\n", stderr.String())
}

func TestEprint_NoWriter(t *testing.T) {
	thread := newThread("eprint", threadConfig{})

	_, err := starlark.ExecFileOptions(fileOptions, thread, "t.star", `eprint("dropped")`, Predeclared(nil))
	assert.NoError(t, err)
}
