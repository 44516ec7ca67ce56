package fetcher

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Watermark is the highest account id processed by the newest strategy.
type Watermark struct {
	v atomic.Int64
}

func (w *Watermark) Load() int64 {
	return w.v.Load()
}

// Advance raises the watermark to id. It never moves backwards; returns whether it moved.
func (w *Watermark) Advance(id int64) bool {
	for {
		cur := w.v.Load()
		if id <= cur {
			return false
		}
		if w.v.CompareAndSwap(cur, id) {
			return true
		}
	}
}

// Window holds the ids of the most recently seen accounts of the recently-updated strategy.
type Window struct {
	mu   sync.Mutex
	size int
	ids  []int64
	// inputs of the last Update, kept so Forget can refill the window
	fetched []int64
	prev    []int64
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size}
}

func (w *Window) Contains(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Contains(w.ids, id)
}

func (w *Window) IDs() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.ids)
}

// Update replaces the window with the first size ids of fetched followed by the previous
// window, skipping duplicates. Fetched ids are expected most-recent first.
func (w *Window) Update(fetched []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prev = w.ids
	w.fetched = slices.Clone(fetched)
	w.rebuild()
}

// Forget drops ids that no longer exist on the forge, refilling the window from the rest of the
// last update.
func (w *Window) Forget(ids ...int64) {
	if len(ids) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	gone := func(id int64) bool { return slices.Contains(ids, id) }
	w.fetched = slices.DeleteFunc(w.fetched, gone)
	w.prev = slices.DeleteFunc(slices.Clone(w.prev), gone)
	w.rebuild()
}

func (w *Window) rebuild() {
	next := make([]int64, 0, w.size)
	for _, id := range slices.Concat(w.fetched, w.prev) {
		if len(next) == w.size {
			break
		}
		if !slices.Contains(next, id) {
			next = append(next, id)
		}
	}
	w.ids = next
}
