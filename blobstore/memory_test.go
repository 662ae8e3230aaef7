package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	w, err := store.Create(ctx, "_0.si")
	require.NoError(t, err)
	_, err = w.Write([]byte("segment info"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = store.Create(ctx, "_0.si")
	require.ErrorIs(t, err, ErrExists)

	b, err := store.Open(ctx, "_0.si")
	require.NoError(t, err)
	data, err := ReadAll(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "segment info", string(data))

	buf := make([]byte, 20)
	n, err := b.ReadAt(ctx, buf, 8)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "info", string(buf[:n]))

	_, err = b.ReadRange(ctx, 10, 10)
	require.Error(t, err)

	aborted, err := store.Create(ctx, "_1.si")
	require.NoError(t, err)
	_, err = aborted.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, aborted.Abort())

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("1")))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"CURRENT", "_0.si"}, names)

	require.NoError(t, store.Delete(ctx, "_0.si"))
	_, err = store.Open(ctx, "_0.si")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, store.Len())
}
