// Package queue provides the generic binary heap shared by every N-way merge
// (segment terms, postings, merge candidates).
package queue

// MinHeap is a binary min-heap ordered by less. The zero value is not usable;
// create one with NewMin or NewMax.
type MinHeap[T any] struct {
	less  func(a, b T) bool
	items []T
}

// NewMin returns an empty heap whose top is the smallest item under less.
func NewMin[T any](less func(a, b T) bool, capacity int) *MinHeap[T] {
	return &MinHeap[T]{less: less, items: make([]T, 0, capacity)}
}

// NewMax returns an empty heap whose top is the largest item under less.
func NewMax[T any](less func(a, b T) bool, capacity int) *MinHeap[T] {
	return NewMin(func(a, b T) bool { return less(b, a) }, capacity)
}

// Len returns the number of items.
func (h *MinHeap[T]) Len() int { return len(h.items) }

// Push inserts an item while maintaining the heap invariant.
func (h *MinHeap[T]) Push(item T) {
	h.items = append(h.items, item)
	h.siftUp(len(h.items) - 1)
}

// Peek returns the top item without removing it.
func (h *MinHeap[T]) Peek() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Pop removes and returns the top item.
func (h *MinHeap[T]) Pop() (T, bool) {
	var zero T
	n := len(h.items)
	if n == 0 {
		return zero, false
	}
	root := h.items[0]
	last := h.items[n-1]
	h.items[n-1] = zero
	h.items = h.items[:n-1]
	if n-1 > 0 {
		h.items[0] = last
		h.siftDown(0)
	}
	return root, true
}

// UpdateTop restores the heap after the top item was modified in place
// (for example an iterator that advanced). Cheaper than Pop plus Push.
func (h *MinHeap[T]) UpdateTop() {
	if len(h.items) > 1 {
		h.siftDown(0)
	}
}

// ReplaceTop swaps the top item for item and restores the heap.
func (h *MinHeap[T]) ReplaceTop(item T) {
	if len(h.items) == 0 {
		h.Push(item)
		return
	}
	h.items[0] = item
	h.UpdateTop()
}

// Items returns the backing slice in heap order. Callers must not modify it.
func (h *MinHeap[T]) Items() []T { return h.items }

// Reset empties the heap for reuse.
func (h *MinHeap[T]) Reset() {
	clear(h.items)
	h.items = h.items[:0]
}

func (h *MinHeap[T]) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(h.items[i], h.items[p]) {
			return
		}
		h.items[i], h.items[p] = h.items[p], h.items[i]
		i = p
	}
}

func (h *MinHeap[T]) siftDown(i int) {
	n := len(h.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && h.less(h.items[r], h.items[l]) {
			best = r
		}
		if !h.less(h.items[best], h.items[i]) {
			return
		}
		h.items[i], h.items[best] = h.items[best], h.items[i]
		i = best
	}
}
