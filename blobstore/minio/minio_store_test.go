package minio

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/blobstore"
)

func TestRelativeName(t *testing.T) {
	tests := []struct {
		prefix, key string
		want        string
		ok          bool
	}{
		{"", "_0.si", "_0.si", true},
		{"idx", "idx/_0.si", "_0.si", true},
		{"idx", "idx2/_0.si", "", false},
		{"idx", "idx/nested/_0.si", "", false},
		{"idx", "idx/", "", false},
	}
	for _, tt := range tests {
		got, ok := relativeName(tt.prefix, tt.key)
		assert.Equal(t, tt.ok, ok, tt.key)
		assert.Equal(t, tt.want, got, tt.key)
	}
	assert.Equal(t, "idx/CURRENT", joinKey("idx", "CURRENT"))
	assert.Equal(t, "CURRENT", joinKey("", "CURRENT"))
}

func TestNewStoreTrimsPrefix(t *testing.T) {
	s := NewStore(nil, "bucket", "/indexes/products/")
	assert.Equal(t, "indexes/products/_0.si", s.key("_0.si"))
}

// TestIntegrationStore requires a running MinIO instance.
func TestIntegrationStore(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	if accessKey == "" {
		accessKey = "minioadmin"
	}
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if secretKey == "" {
		secretKey = "minioadmin"
	}

	ctx := context.Background()
	store, err := New(ctx, Config{
		Endpoint:     endpoint,
		AccessKey:    accessKey,
		SecretKey:    secretKey,
		Bucket:       "lexgo-test",
		Prefix:       fmt.Sprintf("run-%d", time.Now().UnixNano()),
		CreateBucket: true,
	})
	require.NoError(t, err)

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "CURRENT", data))

	b, err := store.Open(ctx, "CURRENT")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), b.Size())
	buf := make([]byte, 5)
	_, err = b.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(buf))
	all, err := blobstore.ReadAll(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, data, all)
	require.NoError(t, b.Close())

	w, err := store.Create(ctx, "_0.doc")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = store.Create(ctx, "_0.doc")
	assert.ErrorIs(t, err, blobstore.ErrExists)

	aborted, err := store.Create(ctx, "_1.doc")
	require.NoError(t, err)
	_, err = aborted.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, aborted.Abort())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"CURRENT", "_0.doc"}, names)

	for _, n := range names {
		require.NoError(t, store.Delete(ctx, n))
	}
	_, err = store.Open(ctx, "_0.doc")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	require.NoError(t, store.Delete(ctx, "_0.doc"))
}
