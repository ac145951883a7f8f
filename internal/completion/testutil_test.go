package completion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	starctx "github.com/leapstack-labs/starkernel/internal/starlark"
	"github.com/leapstack-labs/starkernel/internal/testutil"
)

// writeArchive creates a zip at path with the given entries.
func writeArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func newTestBuilder(t *testing.T, opts ...BuilderOption) *Builder {
	t.Helper()
	loader := starctx.NewParallelLoader(starctx.NewModuleLoader(starctx.WithModuleSteps(10_000)), 2)
	opts = append([]BuilderOption{WithBuilderLogger(testutil.NewTestLogger(t))}, opts...)
	return NewBuilder(loader, opts...)
}
