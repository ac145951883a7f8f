package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clitest "github.com/leapstack-labs/starkernel/internal/cli/testutil"
	starctx "github.com/leapstack-labs/starkernel/internal/starlark"
	"github.com/leapstack-labs/starkernel/internal/testutil"
)

func TestNewSession_WithoutIndex(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Starlark.Globals = map[string]any{"greeting": "hello"}

	sess, err := newSession(context.Background(), cfg, testutil.NewTestLogger(t), &starctx.KernelInfo{
		Implementation: "starkernel",
		Version:        "test",
		Session:        "s-1",
	})
	require.NoError(t, err)
	assert.Nil(t, sess.catalog)

	result, ok, err := sess.interp.Interpret("greeting")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"hello"`, result)

	result, _, err = sess.interp.Interpret("kernel.session")
	require.NoError(t, err)
	assert.Equal(t, `"s-1"`, result)

	// No index: completion is ready but only sees locals and keywords.
	matches, _, ready := sess.completer.Complete("gree")
	assert.True(t, ready)
	assert.Equal(t, []string{"greeting"}, matches)

	_, _, err = sess.interp.Interpret(`load("util", "shout")`)
	assert.Error(t, err)
}

func TestNewSession_InvalidGlobals(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Starlark.Globals = map[string]any{"ch": make(chan int)}

	_, err := newSession(context.Background(), cfg, testutil.NewTestLogger(t), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starlark.globals")
}

func TestNewSession_WithIndex(t *testing.T) {
	root := clitest.SetupModuleTree(t)
	cfg := loadTestConfig(t, "--index-root", root, "--imports", "net")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := newSession(ctx, cfg, testutil.NewTestLogger(t), nil)
	require.NoError(t, err)
	require.NotNil(t, sess.catalog)

	ix, err := sess.catalog.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())

	result, ok, err := sess.interp.Interpret("load(\"net.http\", \"get\")\nget(\"x\")")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `"GET x"`, result)

	matches, _, ready := sess.completer.Complete("ht")
	assert.True(t, ready)
	assert.Contains(t, matches, "http")
}

func TestOpenHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	store, err := openHistory(context.Background(), path, "kernel-1")
	require.NoError(t, err)
	assert.NotZero(t, store.CurrentSession())
	require.NoError(t, store.Record(context.Background(), 1, "x = 1", true))
	require.NoError(t, store.Close())

	store, err = openHistoryReadOnly(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	entries, err := store.Tail(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x = 1", entries[0].Source)
}

func TestOpenHistoryReadOnly_Errors(t *testing.T) {
	_, err := openHistoryReadOnly("")
	assert.ErrorContains(t, err, "history is disabled")

	_, err = openHistoryReadOnly(filepath.Join(t.TempDir(), "missing.db"))
	assert.ErrorContains(t, err, "no history database")
}
