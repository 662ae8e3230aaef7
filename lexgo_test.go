package lexgo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/blobstore"
	"github.com/hupe1980/lexgo/blobstore/s3"
	"github.com/hupe1980/lexgo/internal/engine"
	"github.com/hupe1980/lexgo/internal/manifest"
	"github.com/hupe1980/lexgo/model"
	"github.com/hupe1980/lexgo/numeric"
)

func openTestIndex(t *testing.T, store blobstore.BlobStore, opts ...Option) *Index {
	t.Helper()
	opts = append([]Option{WithBackgroundMerges(false)}, opts...)
	idx, err := Open(context.Background(), store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func product(id, body string, price int64) *model.Document {
	return model.NewDocument(
		model.KeywordField("id", id, true),
		model.TextField("body", body, false),
		model.Int64Field("price", price, true),
	)
}

func add(t *testing.T, idx *Index, docIDs ...string) {
	t.Helper()
	for i, id := range docIDs {
		require.NoError(t, idx.AddDocument(context.Background(), product(id, "item "+id, int64(i))))
	}
}

// ids returns the stored ids of the live documents of v in doc-id order.
func ids(t *testing.T, v *View) []string {
	t.Helper()
	var out []string
	for d := 0; d < v.MaxDoc(); d++ {
		if !v.IsLive(d) {
			continue
		}
		doc, err := v.Document(context.Background(), d)
		require.NoError(t, err)
		id, ok := doc.Get("id")
		require.True(t, ok)
		out = append(out, id.Str)
	}
	return out
}

func acquireIDs(t *testing.T, idx *Index) []string {
	t.Helper()
	v, err := idx.Acquire()
	require.NoError(t, err)
	defer idx.Release(v)
	return ids(t, v)
}

func TestIndexNearRealTime(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, blobstore.NewMemoryStore())

	add(t, idx, "a", "b", "c")
	assert.Empty(t, acquireIDs(t, idx), "buffered documents are not visible")

	require.NoError(t, idx.Flush(ctx))
	assert.Empty(t, acquireIDs(t, idx), "flushed but not refreshed")

	ok, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, acquireIDs(t, idx))

	v, err := idx.Acquire()
	require.NoError(t, err)
	defer idx.Release(v)

	df, err := v.DocFreq("body", []byte("item"))
	require.NoError(t, err)
	assert.Equal(t, 3, df)

	p, err := v.Postings("id", []byte("b"))
	require.NoError(t, err)
	d, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, d)
	d, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, model.NoMoreDocs, d)
}

func TestIndexDeleteDocuments(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, blobstore.NewMemoryStore())

	add(t, idx, "a", "b")
	require.NoError(t, idx.Flush(ctx))
	add(t, idx, "c")

	require.NoError(t, idx.DeleteDocuments(ctx, "id", []byte("b")))
	require.NoError(t, idx.DeleteDocuments(ctx, "id", []byte("c")))
	require.NoError(t, idx.DeleteDocuments(ctx, "id", []byte("missing")))
	require.NoError(t, idx.RefreshBlocking(ctx))

	assert.Equal(t, []string{"a"}, acquireIDs(t, idx))
}

func TestIndexUpdateDocument(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, blobstore.NewMemoryStore())

	require.NoError(t, idx.AddDocument(ctx, product("a", "old", 1)))
	require.NoError(t, idx.AddDocument(ctx, product("b", "other", 2)))
	require.NoError(t, idx.Flush(ctx))
	require.NoError(t, idx.UpdateDocument(ctx, "id", []byte("a"), product("a", "new", 3)))
	require.NoError(t, idx.Flush(ctx))
	require.NoError(t, idx.RefreshBlocking(ctx))

	v, err := idx.Acquire()
	require.NoError(t, err)
	defer idx.Release(v)
	assert.Equal(t, []string{"b", "a"}, ids(t, v))

	df, err := v.DocFreq("body", []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, 1, df)

	p, err := v.Postings("id", []byte("a"))
	require.NoError(t, err)
	d, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, d, "the deleted version is skipped")
	doc, err := v.Document(ctx, d)
	require.NoError(t, err)
	price, ok := doc.Get("price")
	require.True(t, ok)
	assert.Equal(t, int64(3), price.Int)
}

func TestIndexCommitAndReopen(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	_, err := ReadCommit(ctx, store)
	assert.ErrorIs(t, err, ErrNotFound)

	idx, err := Open(ctx, store, WithBackgroundMerges(false))
	require.NoError(t, err)
	add(t, idx, "a", "b")
	require.NoError(t, idx.Commit(ctx, map[string]string{"checkpoint": "42"}))

	st := idx.Stats()
	assert.Equal(t, int64(1), st.Generation)
	assert.Equal(t, 2, st.Docs)
	assert.Equal(t, map[string]string{"checkpoint": "42"}, st.UserData)

	info, err := ReadCommit(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Generation)
	assert.Equal(t, 1, info.Segments)
	assert.Equal(t, 2, info.Docs)
	assert.Equal(t, "42", info.UserData["checkpoint"])

	add(t, idx, "c")
	require.NoError(t, idx.Close())
	assert.ErrorIs(t, idx.Close(), ErrClosed)

	reopened := openTestIndex(t, store)
	require.NoError(t, reopened.RefreshBlocking(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, acquireIDs(t, reopened), "close commits pending documents")
}

func TestIndexCloseWithoutCommit(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	idx, err := Open(ctx, store, WithCommitOnClose(false))
	require.NoError(t, err)
	add(t, idx, "a")
	require.NoError(t, idx.Commit(ctx, nil))
	add(t, idx, "b")
	require.NoError(t, idx.Close())

	info, err := ReadCommit(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Docs)
}

func TestIndexClosed(t *testing.T) {
	ctx := context.Background()
	idx, err := Open(ctx, blobstore.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	assert.ErrorIs(t, idx.AddDocument(ctx, product("a", "x", 1)), ErrClosed)
	assert.ErrorIs(t, idx.DeleteDocuments(ctx, "id", []byte("a")), ErrClosed)
	assert.ErrorIs(t, idx.Flush(ctx), ErrClosed)
	_, err = idx.Acquire()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = idx.Refresh(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIndexInvalidDocument(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, blobstore.NewMemoryStore())

	assert.ErrorIs(t, idx.AddDocument(ctx, nil), ErrInvalidArgument)
	err := idx.AddDocument(ctx, model.NewDocument(model.KeywordField("", "x", true)))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, model.ErrInvalidDocument)
}

func TestIndexNumericRange(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, blobstore.NewMemoryStore())

	for i, price := range []int64{5, 15, 25, 35} {
		require.NoError(t, idx.AddDocument(ctx, product(fmt.Sprint(i), "p", price)))
		if i == 1 {
			require.NoError(t, idx.Flush(ctx))
		}
	}
	require.NoError(t, idx.Flush(ctx))
	require.NoError(t, idx.RefreshBlocking(ctx))

	v, err := idx.Acquire()
	require.NoError(t, err)
	defer idx.Release(v)
	require.Len(t, v.Segments(), 2)

	lo, hi := int64(10), int64(30)
	f, err := numeric.NewInt64RangeFilter("price", numeric.DefaultPrecisionStep, &lo, &hi, true, true)
	require.NoError(t, err)
	bm, err := v.NumericRange(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, bm.ToArray())
}

func TestIndexForceMerge(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, blobstore.NewMemoryStore())

	for _, id := range []string{"a", "b", "c"} {
		add(t, idx, id)
		require.NoError(t, idx.Flush(ctx))
	}
	require.NoError(t, idx.DeleteDocuments(ctx, "id", []byte("b")))
	assert.Equal(t, 2, idx.Stats().Segments, "fully deleted segment dropped")

	require.NoError(t, idx.ForceMerge(ctx, 1))
	require.NoError(t, idx.WaitForMerges(ctx))

	st := idx.Stats()
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, 2, st.Docs)
	assert.Zero(t, st.DeletedDocs)
	assert.Zero(t, st.MergesRunning)

	require.NoError(t, idx.RefreshBlocking(ctx))
	assert.Equal(t, []string{"a", "c"}, acquireIDs(t, idx))
}

func TestIndexRefreshListener(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, blobstore.NewMemoryStore())

	var (
		mu     sync.Mutex
		events []bool
	)
	idx.AddRefreshListener(func(refreshed bool) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, refreshed)
	})

	require.NoError(t, idx.RefreshBlocking(ctx))
	add(t, idx, "a")
	require.NoError(t, idx.Flush(ctx))
	require.NoError(t, idx.RefreshBlocking(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, events)
}

func TestIndexRefreshInterval(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, blobstore.NewMemoryStore(), WithRefreshInterval(5*time.Millisecond))

	add(t, idx, "a")
	require.NoError(t, idx.Flush(ctx))
	require.Eventually(t, func() bool {
		v, err := idx.Acquire()
		if err != nil {
			return false
		}
		defer idx.Release(v)
		return v.NumDocs() == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func TestIndexMetrics(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetricsObserver{}
	idx := openTestIndex(t, blobstore.NewMemoryStore(), WithMetricsObserver(m))

	add(t, idx, "a", "b")
	require.NoError(t, idx.Commit(ctx, nil))
	require.NoError(t, idx.DeleteDocuments(ctx, "id", []byte("a")))
	require.NoError(t, idx.RefreshBlocking(ctx))

	s := m.GetStats()
	assert.Equal(t, int64(1), s.FlushCount)
	assert.Equal(t, int64(2), s.FlushedDocs)
	assert.Equal(t, int64(1), s.CommitCount)
	assert.Equal(t, int64(1), s.LastGeneration)
	assert.Equal(t, int64(1), s.DeletedDocs)
	assert.Equal(t, int64(1), s.RefreshSwaps)
	assert.Zero(t, s.FlushErrors+s.CommitErrors+s.RefreshErrors)
}

func TestReaderFollowsCommits(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	_, err := OpenReader(ctx, store)
	assert.ErrorIs(t, err, ErrNotFound)

	idx := openTestIndex(t, store)
	add(t, idx, "a")
	require.NoError(t, idx.Commit(ctx, nil))

	r, err := OpenReader(ctx, store)
	require.NoError(t, err)
	defer r.Close()

	v1, err := r.Acquire()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(t, v1))
	assert.Equal(t, int64(1), v1.Generation())

	require.NoError(t, idx.AddDocument(ctx, product("b", "x", 1)))
	require.NoError(t, idx.Flush(ctx))
	require.NoError(t, r.RefreshBlocking(ctx))
	v, err := r.Acquire()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(t, v), "flushed but uncommitted")
	r.Release(v)

	require.NoError(t, idx.Commit(ctx, nil))
	require.NoError(t, r.RefreshBlocking(ctx))
	v2, err := r.Acquire()
	require.NoError(t, err)
	defer r.Release(v2)
	assert.Equal(t, int64(2), v2.Generation())
	assert.Equal(t, []string{"a", "b"}, ids(t, v2))

	// The old view stays readable until released.
	assert.Equal(t, []string{"a"}, ids(t, v1))
	r.Release(v1)

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.Close(), ErrClosed)
	_, err = r.Acquire()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTranslateError(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"closed", engine.ErrClosed, ErrClosed},
		{"manager closed", engine.ErrManagerClosed, ErrClosed},
		{"no commit", fmt.Errorf("load: %w", manifest.ErrNotFound), ErrNotFound},
		{"bad argument", engine.ErrInvalidArgument, ErrInvalidArgument},
		{"bad document", model.ErrInvalidDocument, ErrInvalidArgument},
		{"lost commit race", fmt.Errorf("commit: %w", s3.ErrConcurrentModification), ErrConcurrentModification},
		{"corrupt", &CorruptError{Resource: "_0.si", Reason: "bad magic"}, ErrCorrupt},
		{"other", boom, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
			if tt.err != nil {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}
}
