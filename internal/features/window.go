package features

import (
	"container/ring"
	"sync"
	"time"
)

type report struct {
	s Summary
	t time.Time
}

// Window keeps the most recent worker reports and merges the ones younger
// than its span into one Summary.
type Window struct {
	span time.Duration
	ring *ring.Ring
	mu   sync.RWMutex
	now  func() time.Time
}

func NewWindow(span time.Duration, size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{span: span, ring: ring.New(size), now: time.Now}
}

func (w *Window) Add(s Summary) {
	w.mu.Lock()
	w.ring.Value = report{s, w.now()}
	w.ring = w.ring.Next()
	w.mu.Unlock()
}

// Sum merges the reports inside the span. count is the number merged.
func (w *Window) Sum() (sum Summary, count int) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	cutoff := w.now().Add(-w.span)
	w.ring.Do(func(x any) {
		if r, ok := x.(report); ok && r.t.After(cutoff) {
			sum.Merge(r.s)
			count++
		}
	})
	return
}

// Reset drops every report, e.g. after a plan switch invalidates them.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := w.ring.Len(); i > 0; i-- {
		w.ring.Value = nil
		w.ring = w.ring.Next()
	}
}
