package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNativeFileWriteFlushClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")

	f, err := NewNativeFile(path, "w")
	require.NoError(t, err)

	require.NoError(t, f.Write("hello "))
	require.NoError(t, f.Write([]byte("world")))
	require.NoError(t, f.Flush())
	require.NoError(t, f.Close())
	require.NoError(t, f.Close()) // idempotent

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestNativeFileWriteAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	f, err := NewNativeFile(path, "w")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Error(t, f.Write("oops"))
	require.Error(t, f.Flush())
}

func TestNativeFileWriteRejectsInvalidArgument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	f, err := NewNativeFile(path, "w")
	require.NoError(t, err)
	defer f.Close()

	require.Error(t, f.Write(42))
}

func TestNewNativeFileRejectsUnknownMode(t *testing.T) {
	_, err := NewNativeFile(filepath.Join(t.TempDir(), "x"), "rw-bogus")
	require.Error(t, err)
}

func TestNewNativeFileFailsWhenOpenFails(t *testing.T) {
	_, err := NewNativeFile(filepath.Join(t.TempDir(), "missing-dir", "x.txt"), "r")
	require.Error(t, err)
}
