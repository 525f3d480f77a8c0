// Package pqueue provides a generic priority queue ordering items highest
// priority first, stable for equal priorities by insertion order.
//
// The conflict resolver uses it to order competing rules; the stability
// guarantee mirrors the rule catalog's registration-order tie-break.
package pqueue

import "container/heap"

// Queue is a max-priority queue. Not safe for concurrent use; callers that
// share one queue must synchronize externally.
type Queue[T any] struct {
	h       innerHeap[T]
	nextSeq int64
}

type node[T any] struct {
	value    T
	priority int
	seq      int64
}

type innerHeap[T any] []node[T]

func (h innerHeap[T]) Len() int { return len(h) }

func (h innerHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	// Equal priorities dequeue in insertion order.
	return h[i].seq < h[j].seq
}

func (h innerHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *innerHeap[T]) Push(x any) {
	*h = append(*h, x.(node[T]))
}

func (h *innerHeap[T]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Enqueue adds a value with the given priority.
func (q *Queue[T]) Enqueue(v T, priority int) {
	q.nextSeq++
	heap.Push(&q.h, node[T]{value: v, priority: priority, seq: q.nextSeq})
}

// Dequeue removes and returns the highest-priority value.
// Returns ok=false on an empty queue.
func (q *Queue[T]) Dequeue() (T, bool) {
	if len(q.h) == 0 {
		var zero T
		return zero, false
	}
	it := heap.Pop(&q.h).(node[T])
	return it.value, true
}

// Peek returns the highest-priority value without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if len(q.h) == 0 {
		var zero T
		return zero, false
	}
	return q.h[0].value, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.h)
}
