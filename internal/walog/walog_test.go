package walog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendFlushAndLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append("put\ta\tYQ=="))
	require.NoError(t, w.Append("put\tb\tYg=="))
	require.NoError(t, w.FlushAndSync())

	lines, err := w.Lines()
	require.NoError(t, err)
	require.Equal(t, []string{"put\ta\tYQ==", "put\tb\tYg=="}, lines)
}

func TestTruncateResetsToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append("put\ta\tYQ=="))
	require.NoError(t, w.FlushAndSync())
	require.NoError(t, w.Truncate())

	lines, err := w.Lines()
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestTruncateToOffsetRollsBackPartialBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append("put\ta\tYQ=="))
	require.NoError(t, w.FlushAndSync())

	checkpoint, err := w.Offset()
	require.NoError(t, err)

	require.NoError(t, w.Append("put\tb\tYg=="))
	require.NoError(t, w.TruncateToOffset(checkpoint))

	lines, err := w.Lines()
	require.NoError(t, err)
	require.Equal(t, []string{"put\ta\tYQ=="}, lines)
}

func TestLinesDiscardsPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	require.NoError(t, os.WriteFile(path, []byte("put\ta\tYQ==\nput\tb\tYg=="), 0o644))

	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	lines, err := w.Lines()
	require.NoError(t, err)
	require.Equal(t, []string{"put\ta\tYQ=="}, lines)
}

func TestLinesOnEmptyWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	lines, err := w.Lines()
	require.NoError(t, err)
	require.Empty(t, lines)
}
