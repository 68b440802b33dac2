// ABOUTME: Bounded set of recently seen event IDs with O(1) eviction.
// ABOUTME: Suppresses duplicates at the backfill/live seam of an observer stream.

package dedupe

import (
	"container/list"
	"sync"
)

// Window remembers the most recently marked event IDs up to a fixed
// capacity. When full, the oldest ID is evicted to make room. It is safe
// for concurrent use.
type Window struct {
	mu      sync.Mutex
	seen    map[int64]*list.Element
	order   *list.List // IDs in insertion order, oldest at front
	maxSize int
}

// NewWindow creates a window holding at most maxSize IDs. A non-positive
// maxSize yields a window that never matches, so every event passes.
func NewWindow(maxSize int) *Window {
	return &Window{
		seen:    make(map[int64]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// CheckAndMark atomically checks whether id has been seen and marks it if
// not. It returns true when the id was already present, false when it is
// new and now recorded.
func (w *Window) CheckAndMark(id int64) bool {
	if w.maxSize <= 0 {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return true
	}
	w.markLocked(id)
	return false
}

// Mark records that id has been seen, evicting the oldest entry when at
// capacity.
func (w *Window) Mark(id int64) {
	if w.maxSize <= 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.markLocked(id)
}

// markLocked is the internal mark implementation. Must be called with mu
// held.
func (w *Window) markLocked(id int64) {
	if elem, exists := w.seen[id]; exists {
		w.order.MoveToBack(elem)
		return
	}

	if len(w.seen) >= w.maxSize {
		w.evictOldest()
	}

	w.seen[id] = w.order.PushBack(id)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}

	id, _ := front.Value.(int64)
	w.order.Remove(front)
	delete(w.seen, id)
}

// Len reports the number of IDs currently tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
