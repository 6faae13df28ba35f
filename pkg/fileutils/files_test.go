package fileutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "nested", "book.epub")

	require.NoError(t, WriteFileAtomic(dest, []byte("first")))
	require.NoError(t, WriteFileAtomic(dest, []byte("second")))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.False(t, Exists(dest+".tmp"))
}

func TestMoveFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0600))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	require.NoError(t, MoveFile(src, dst))

	assert.False(t, Exists(src))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestMoveFileMissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := MoveFile(filepath.Join(dir, "missing"), filepath.Join(dir, "dst"))
	assert.Error(t, err)
	assert.False(t, Exists(filepath.Join(dir, "dst")))
}

func TestCopyFileKeepsPermissions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0600))

	require.NoError(t, copyFile(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
