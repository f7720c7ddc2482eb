// Package queue provides the bounded FIFO shared between pipeline stages.
package queue

import (
	"context"
	"sync"
)

// DefaultMaxLen is the capacity used by both pipeline queues.
const DefaultMaxLen = 20

// Bounded is a FIFO with a fixed capacity. When a push finds the queue full,
// the oldest entries are discarded until the queue is half full, then the new
// item is appended. Fresh frames win over complete delivery.
type Bounded[T any] struct {
	mu      sync.Mutex
	items   []T
	maxLen  int
	dropped uint64
	ready   chan struct{} // holds one token while items may be available
	onDrop  func(n int)
}

// New creates a queue holding at most maxLen items. maxLen below 2 is raised
// to 2 so that shedding to half capacity always leaves room.
func New[T any](maxLen int) *Bounded[T] {
	if maxLen < 2 {
		maxLen = 2
	}
	return &Bounded[T]{
		items:  make([]T, 0, maxLen),
		maxLen: maxLen,
		ready:  make(chan struct{}, 1),
	}
}

// OnDrop registers a callback invoked (outside the lock) with the number of
// items discarded by each shed.
func (q *Bounded[T]) OnDrop(fn func(n int)) {
	q.mu.Lock()
	q.onDrop = fn
	q.mu.Unlock()
}

// MaxLen returns the capacity.
func (q *Bounded[T]) MaxLen() int {
	return q.maxLen
}

// Push appends item, shedding the oldest half first if the queue is full.
// It reports how many items were discarded.
func (q *Bounded[T]) Push(item T) int {
	q.mu.Lock()
	n := 0
	if len(q.items) >= q.maxLen {
		n = q.shedLocked()
	}
	q.items = append(q.items, item)
	fn := q.onDrop
	q.mu.Unlock()

	q.signal()
	if n > 0 && fn != nil {
		fn(n)
	}
	return n
}

// Full reports whether the next Push would shed.
func (q *Bounded[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) >= q.maxLen
}

// Shed discards the oldest entries until at most MaxLen/2 remain and returns
// the number discarded.
func (q *Bounded[T]) Shed() int {
	q.mu.Lock()
	n := q.shedLocked()
	fn := q.onDrop
	q.mu.Unlock()

	if n > 0 && fn != nil {
		fn(n)
	}
	return n
}

func (q *Bounded[T]) shedLocked() int {
	keep := q.maxLen / 2
	n := len(q.items) - keep
	if n <= 0 {
		return 0
	}
	var zero T
	for i := 0; i < n; i++ {
		q.items[i] = zero
	}
	q.items = append(q.items[:0], q.items[n:]...)
	q.dropped += uint64(n)
	return n
}

// TryPop removes and returns the oldest item without blocking.
func (q *Bounded[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return item, true
}

// Pop blocks until an item is available or ctx is done. Exactly one of the two
// outcomes is reported: an item with true, or the zero value with false.
func (q *Bounded[T]) Pop(ctx context.Context) (T, bool) {
	for {
		if item, ok := q.TryPop(); ok {
			return item, true
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-q.ready:
		}
	}
}

// Len returns the instantaneous length.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the total number of items discarded by shedding.
func (q *Bounded[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear empties the queue.
func (q *Bounded[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.items = q.items[:0]
}

func (q *Bounded[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
