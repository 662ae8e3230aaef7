package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// RefreshSource produces views for a Manager.
type RefreshSource interface {
	// NewView returns a view newer than current, or nil when current is up
	// to date. current is nil on the first call. The returned view carries
	// one reference that the manager takes over.
	NewView(ctx context.Context, current *View) (*View, error)
}

// RefreshListener is called by the goroutine that ran a refresh, after the
// new view was published or the refresh found nothing to do.
type RefreshListener func(refreshed bool)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger of the manager.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithManagerMetrics sets the observer notified of refreshes.
func WithManagerMetrics(o MetricsObserver) ManagerOption {
	return func(m *Manager) {
		if o != nil {
			m.metrics = o
		}
	}
}

// Manager shares the current View between readers. Acquire never blocks;
// only the goroutine that wins the refresh gate does I/O.
type Manager struct {
	current atomic.Pointer[View]
	source  RefreshSource
	gate    *semaphore.Weighted
	closed  atomic.Bool

	listenersMu sync.Mutex
	listeners   []RefreshListener

	logger  *slog.Logger
	metrics MetricsObserver
}

// NewManager creates a manager whose first view comes from source.
func NewManager(ctx context.Context, source RefreshSource, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		source:  source,
		gate:    semaphore.NewWeighted(1),
		logger:  slog.New(slog.DiscardHandler),
		metrics: NoopMetricsObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	v, err := source.NewView(ctx, nil)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.New("refresh source returned no initial view")
	}
	m.current.Store(v)
	return m, nil
}

// Acquire returns the current view with a reference the caller must give
// back with Release.
func (m *Manager) Acquire() (*View, error) {
	for {
		v := m.current.Load()
		if v == nil {
			return nil, ErrManagerClosed
		}
		if v.TryIncRef() {
			return v, nil
		}
		// v was swapped out and released between the load and TryIncRef.
		if m.current.Load() == v {
			return nil, errors.New("engine: current view released while still published")
		}
	}
}

// Release gives back a view obtained from Acquire. It is safe to call after
// Close.
func (m *Manager) Release(v *View) {
	if v != nil {
		v.DecRef()
	}
}

// AddListener registers fn to run after every refresh.
func (m *Manager) AddListener(fn RefreshListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// MaybeRefresh refreshes the current view unless another refresh is in
// progress, in which case it returns false at once. It returns true when
// the view is up to date after the call.
func (m *Manager) MaybeRefresh(ctx context.Context) (bool, error) {
	if m.closed.Load() {
		return false, ErrManagerClosed
	}
	if !m.gate.TryAcquire(1) {
		return false, nil
	}
	defer m.gate.Release(1)
	if err := m.refresh(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// MaybeRefreshBlocking waits for a running refresh and then refreshes.
func (m *Manager) MaybeRefreshBlocking(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if err := m.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.gate.Release(1)
	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (err error) {
	start := time.Now()
	refreshed := false
	defer func() {
		m.metrics.OnRefresh(time.Since(start), refreshed, err)
	}()

	cur, err := m.Acquire()
	if err != nil {
		return err
	}
	next, err := m.source.NewView(ctx, cur)
	m.Release(cur)
	if err != nil {
		return err
	}
	if next != nil && next.Version() < cur.Version() {
		m.logger.Warn("refresh source returned an older view, ignored",
			"version", next.Version(), "current", cur.Version())
		next.DecRef()
		next = nil
	}
	if next != nil {
		if !m.current.CompareAndSwap(cur, next) {
			next.DecRef()
			return ErrManagerClosed
		}
		// Drop the manager's reference; readers keep theirs.
		cur.DecRef()
		refreshed = true
		m.logger.Debug("view refreshed", "version", next.Version(), "gen", next.Generation(),
			"segments", len(next.Segments()), "docs", next.NumDocs())
	}

	m.listenersMu.Lock()
	listeners := append([]RefreshListener(nil), m.listeners...)
	m.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(refreshed)
	}
	return nil
}

// Close releases the manager's reference on the current view. Views that
// readers still hold stay valid. Close is idempotent.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if v := m.current.Swap(nil); v != nil {
		v.DecRef()
	}
	return nil
}
