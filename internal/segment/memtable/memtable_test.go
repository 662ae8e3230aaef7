package memtable

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/internal/resource"
	"github.com/hupe1980/lexgo/internal/segment"
	"github.com/hupe1980/lexgo/model"
	"github.com/hupe1980/lexgo/numeric"
)

func flushAndOpen(t *testing.T, b *Buffer) (*segment.Reader, *segment.Info) {
	t.Helper()
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	info, live, err := b.Flush(ctx, store, "_0", segment.WriterOptions{})
	require.NoError(t, err)
	require.NotNil(t, info)
	if b.NumDeleted() == 0 {
		assert.Nil(t, live)
	} else {
		require.NotNil(t, live)
		assert.Equal(t, b.NumDeleted(), live.NumDeleted())
	}
	r, err := segment.Open(ctx, store, info)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, info
}

func TestBufferFlush(t *testing.T) {
	ctx := context.Background()
	b := New(nil)
	for _, d := range []*model.Document{
		model.NewDocument(
			model.KeywordField("id", "1", true),
			model.TextField("body", "to be or not to be", false),
			model.NumericDocValuesField("rank", 7),
		),
		model.NewDocument(
			model.KeywordField("id", "2", true),
			model.TextField("body", "be quick", true),
			model.SortedDocValuesField("color", []byte("green")),
		),
	} {
		_, err := b.AddDocument(d)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, b.NumDocs())
	assert.Positive(t, b.BytesUsed())

	r, info := flushAndOpen(t, b)
	assert.Equal(t, 2, info.DocCount)

	body, ok := info.Fields.Field("body")
	require.True(t, ok)
	assert.Equal(t, model.IndexDocsFreqsPositions, body.IndexOptions)
	assert.True(t, body.Stored)

	p, err := r.Postings("body", []byte("be"))
	require.NoError(t, err)
	d, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, d)
	assert.Equal(t, 2, p.Freq())
	pos, err := p.Positions()
	require.NoError(t, err)
	assert.Equal(t, []segment.Position{{Pos: 1}, {Pos: 5}}, pos)
	d, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, d)
	pos, err = p.Positions()
	require.NoError(t, err)
	assert.Equal(t, []segment.Position{{Pos: 0}}, pos)

	doc, err := r.Document(ctx, 1)
	require.NoError(t, err)
	v, ok := doc.Get("body")
	require.True(t, ok)
	assert.Equal(t, "be quick", v.Str)
	doc, err = r.Document(ctx, 0)
	require.NoError(t, err)
	_, ok = doc.Get("body")
	assert.False(t, ok)

	rank, err := r.NumericDocValues("rank")
	require.NoError(t, err)
	n, ok := rank.Get(0)
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)
	color, err := r.SortedDocValues("color")
	require.NoError(t, err)
	c, ok := color.Get(1)
	assert.True(t, ok)
	assert.Equal(t, []byte("green"), c)
}

func TestBufferNumericRange(t *testing.T) {
	ctx := context.Background()
	b := New(nil)
	values := []int64{-100, 0, 5000, 9999, 10000, 10001, 1 << 40}
	for _, v := range values {
		_, err := b.AddDocument(model.NewDocument(model.Int64Field("n", v, false).WithPrecisionStep(8)))
		require.NoError(t, err)
	}
	r, info := flushAndOpen(t, b)
	_, ok := info.Fields.Field(numeric.LowerPrecisionField("n"))
	assert.True(t, ok)

	lo, hi := int64(0), int64(10000)
	f, err := numeric.NewInt64RangeFilter("n", 8, &lo, &hi, true, true)
	require.NoError(t, err)
	docs, err := f.Apply(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3, 4}, docs.ToArray())
}

func TestBufferDeleteTerm(t *testing.T) {
	b := New(nil)
	for _, id := range []string{"a", "b", "a", "c"} {
		_, err := b.AddDocument(model.NewDocument(model.KeywordField("id", id, false)))
		require.NoError(t, err)
	}
	n, err := b.DeleteTerm("id", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = b.DeleteTerm("id", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = b.DeleteTerm("missing", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Deletes only reach documents added before them.
	_, err = b.AddDocument(model.NewDocument(model.KeywordField("id", "a", false)))
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2}, b.Deleted().ToArray())

	_, info := flushAndOpen(t, b)
	assert.Equal(t, 5, info.DocCount)
}

func TestBufferFlushAllDeleted(t *testing.T) {
	b := New(nil)
	_, err := b.AddDocument(model.NewDocument(model.KeywordField("id", "x", false)))
	require.NoError(t, err)
	_, err = b.DeleteTerm("id", []byte("x"))
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	info, live, err := b.Flush(context.Background(), store, "_0", segment.WriterOptions{})
	require.NoError(t, err)
	assert.Nil(t, info)
	assert.Nil(t, live)
	assert.Equal(t, 0, store.Len())

	_, err = b.AddDocument(model.NewDocument(model.KeywordField("id", "y", false)))
	assert.ErrorIs(t, err, ErrFrozen)
}

func TestBufferMemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 512})
	b := New(rc)
	var err error
	added := 0
	for i := 0; i < 100; i++ {
		if _, err = b.AddDocument(model.NewDocument(model.TextField("body", "some words to index here", false))); err != nil {
			break
		}
		added++
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, resource.ErrMemoryLimitExceeded))
	assert.Equal(t, added, b.NumDocs())
	assert.Equal(t, b.BytesUsed(), rc.MemoryUsage())

	b.Release()
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestBufferRejectsConflictingDocValues(t *testing.T) {
	b := New(nil)
	_, err := b.AddDocument(model.NewDocument(model.NumericDocValuesField("x", 1)))
	require.NoError(t, err)
	_, err = b.AddDocument(model.NewDocument(model.BinaryDocValuesField("x", []byte("a"))))
	require.Error(t, err)
	_, err = b.AddDocument(model.NewDocument(model.NumericDocValuesField("x", 1), model.NumericDocValuesField("x", 2)))
	require.Error(t, err)
	assert.Equal(t, 1, b.NumDocs())
}
