package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "index")
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	f, err := lfs.CreateTemp(dir, "_0.si.tmp*")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	require.NoError(t, f.Close())

	final := filepath.Join(dir, "_0.si")
	require.NoError(t, lfs.Rename(f.Name(), final))
	require.NoError(t, SyncDir(lfs, dir))

	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "_0.si", entries[0].Name())

	require.NoError(t, lfs.Remove(final))
	_, err = lfs.Stat(final)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFSWriteLimit(t *testing.T) {
	ffs := NewFaultyFS(nil)
	ffs.AddRule(".doc", Fault{FailAfterBytes: 5})

	f, err := ffs.OpenFile(filepath.Join(t.TempDir(), "_0.doc"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(5), ffs.Written())
	require.NoError(t, f.Close())
}

func TestFaultyFSSyncCloseRename(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("broken", Fault{FailOnSync: true, FailOnClose: true, FailOnRename: true})

	f, err := ffs.CreateTemp(dir, "broken*")
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), ErrInjected)
	assert.ErrorIs(t, f.Close(), ErrInjected)
	assert.ErrorIs(t, ffs.Rename(f.Name(), filepath.Join(dir, "broken.si")), ErrInjected)

	ffs.ClearRules()
	require.NoError(t, ffs.Rename(f.Name(), filepath.Join(dir, "ok.si")))
}

func TestFaultyFSRemoveRetries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "_3.fdt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule(".fdt", Fault{FailRemoves: 2})

	assert.ErrorIs(t, ffs.Remove(path), ErrInjected)
	assert.ErrorIs(t, ffs.Remove(path), ErrInjected)
	require.NoError(t, ffs.Remove(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
