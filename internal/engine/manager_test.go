package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/blobstore"
)

// stubSource hands out empty views with increasing versions.
type stubSource struct {
	mu      sync.Mutex
	version uint64
	calls   int
	err     error
	block   chan struct{}
	views   []*View
}

func (s *stubSource) bump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
}

func (s *stubSource) NewView(ctx context.Context, current *View) (*View, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if current != nil && current.Version() >= s.version {
		return nil, nil
	}
	v := newView(nil, s.version, 0)
	s.views = append(s.views, v)
	return v, nil
}

func TestManagerAcquireRelease(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{}
	m, err := NewManager(ctx, src)
	require.NoError(t, err)

	v, err := m.Acquire()
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.RefCount())
	m.Release(v)
	assert.Equal(t, int64(1), v.RefCount())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, int64(0), v.RefCount())

	_, err = m.Acquire()
	assert.ErrorIs(t, err, ErrManagerClosed)
	_, err = m.MaybeRefresh(ctx)
	assert.ErrorIs(t, err, ErrManagerClosed)
	m.Release(nil)
}

func TestManagerRefresh(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{}
	m, err := NewManager(ctx, src)
	require.NoError(t, err)
	defer m.Close()

	var events []bool
	m.AddListener(func(refreshed bool) { events = append(events, refreshed) })

	old, err := m.Acquire()
	require.NoError(t, err)

	ok, err := m.MaybeRefresh(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	src.bump()
	require.NoError(t, m.MaybeRefreshBlocking(ctx))
	assert.Equal(t, []bool{false, true}, events)

	cur, err := m.Acquire()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur.Version())
	m.Release(cur)

	// The reader's reference keeps the old view alive after the swap.
	assert.Equal(t, int64(1), old.RefCount())
	m.Release(old)
	assert.Equal(t, int64(0), old.RefCount())
}

func TestManagerRefreshGate(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{}
	m, err := NewManager(ctx, src)
	require.NoError(t, err)
	defer m.Close()

	src.block = make(chan struct{})
	src.bump()

	done := make(chan error, 1)
	go func() { done <- m.MaybeRefreshBlocking(ctx) }()

	// Wait until the blocking refresh holds the gate.
	require.Eventually(t, func() bool {
		if m.gate.TryAcquire(1) {
			m.gate.Release(1)
			return false
		}
		return true
	}, waitFor, tick)

	ok, err := m.MaybeRefresh(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "refresh in progress")

	close(src.block)
	require.NoError(t, <-done)
	v, err := m.Acquire()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.Version())
	m.Release(v)
}

func TestManagerRefreshError(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{}
	m, err := NewManager(ctx, src)
	require.NoError(t, err)
	defer m.Close()

	boom := errors.New("boom")
	src.err = boom
	_, err = m.MaybeRefresh(ctx)
	assert.ErrorIs(t, err, boom)

	v, err := m.Acquire()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v.Version())
	m.Release(v)
}

func TestManagerConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	src := &stubSource{}
	m, err := NewManager(ctx, src)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		acquired atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v, err := m.Acquire()
				if !assert.NoError(t, err) {
					return
				}
				acquired.Add(1)
				m.Release(v)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		src.bump()
		_, err := m.MaybeRefresh(ctx)
		require.NoError(t, err)
	}
	wg.Wait()
	require.NoError(t, m.Close())

	assert.Equal(t, int64(800), acquired.Load())
	for _, v := range src.views {
		assert.Equal(t, int64(0), v.RefCount())
	}
}

func TestNewManagerNeedsView(t *testing.T) {
	_, err := NewManager(context.Background(), nilSource{})
	assert.Error(t, err)
}

type nilSource struct{}

func (nilSource) NewView(context.Context, *View) (*View, error) { return nil, nil }

// A reader keeps merged-away segments readable and their files on disk
// until it releases its view.
func TestViewOutlivesMerge(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	e := openTestEngine(t, store)
	for _, id := range []string{"a", "b"} {
		addDocs(t, e, id)
		require.NoError(t, e.Flush(ctx))
	}
	require.NoError(t, e.Commit(ctx, nil))

	m, err := NewManager(ctx, e)
	require.NoError(t, err)
	defer m.Close()

	r1, err := m.Acquire()
	require.NoError(t, err)
	require.Len(t, r1.Segments(), 2)
	var oldFiles []string
	for _, s := range r1.Segments() {
		oldFiles = append(oldFiles, s.Ref.Reader().Info().Files...)
	}

	require.NoError(t, e.ForceMerge(ctx, 1))
	require.NoError(t, e.Commit(ctx, nil))
	ok, err := m.MaybeRefresh(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	r2, err := m.Acquire()
	require.NoError(t, err)
	assert.Len(t, r2.Segments(), 1)
	assert.Equal(t, []string{"a", "b"}, liveIDs(t, r2))
	m.Release(r2)

	assert.Equal(t, []string{"a", "b"}, liveIDs(t, r1))
	for _, f := range oldFiles {
		exists, err := blobstore.Exists(ctx, store, f)
		require.NoError(t, err)
		assert.True(t, exists, f)
	}

	m.Release(r1)
	for _, f := range oldFiles {
		exists, err := blobstore.Exists(ctx, store, f)
		require.NoError(t, err)
		assert.False(t, exists, f)
		assert.Zero(t, e.deleter.refCount(f))
	}
}
