package timer

import (
	"container/heap"
	"time"
)

// Queue orders session deadlines so a single loop can wait on the earliest.
// It is owned by that loop and needs no locking.
type Queue[K comparable] struct {
	items entryHeap[K]
	index map[K]*entry[K]
}

// NewQueue creates an empty queue.
func NewQueue[K comparable]() *Queue[K] {
	return &Queue[K]{index: make(map[K]*entry[K])}
}

// Set schedules (or reschedules) key to fire at t. A zero t removes it.
func (q *Queue[K]) Set(key K, t time.Time) {
	if t.IsZero() {
		q.Remove(key)
		return
	}
	if e, ok := q.index[key]; ok {
		e.at = t
		heap.Fix(&q.items, e.pos)
		return
	}
	e := &entry[K]{key: key, at: t}
	q.index[key] = e
	heap.Push(&q.items, e)
}

// Remove cancels key's deadline, if any.
func (q *Queue[K]) Remove(key K) {
	e, ok := q.index[key]
	if !ok {
		return
	}
	heap.Remove(&q.items, e.pos)
	delete(q.index, key)
}

// Next returns the earliest deadline.
func (q *Queue[K]) Next() (time.Time, bool) {
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].at, true
}

// PopDue removes and returns every key whose deadline is at or before now,
// earliest first.
func (q *Queue[K]) PopDue(now time.Time) []K {
	var due []K
	for len(q.items) > 0 && !q.items[0].at.After(now) {
		e := heap.Pop(&q.items).(*entry[K])
		delete(q.index, e.key)
		due = append(due, e.key)
	}
	return due
}

// Len returns the number of scheduled keys.
func (q *Queue[K]) Len() int {
	return len(q.items)
}

// ---------------------------------------------------------------------------
// entryHeap implements a min-heap sorted by deadline.
// ---------------------------------------------------------------------------

type entry[K comparable] struct {
	key K
	at  time.Time
	pos int
}

type entryHeap[K comparable] []*entry[K]

func (h entryHeap[K]) Len() int           { return len(h) }
func (h entryHeap[K]) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h entryHeap[K]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *entryHeap[K]) Push(x any) {
	e := x.(*entry[K])
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap[K]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return item
}
