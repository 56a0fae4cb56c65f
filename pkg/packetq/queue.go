// Package packetq implements the fixed-capacity packet ring used once per
// media type by the demux pipeline.
//
// A Queue owns what it holds: Enqueue moves an item in, Dequeue moves it out to
// the caller, and Flush releases everything still queued. The queue never
// blocks; callers decide what to do when it is full or empty.
package packetq

// Releaser is implemented by queued items. Release must be safe to call once.
type Releaser interface {
	Release()
}

// Queue is a bounded circular buffer. It is not safe for concurrent use; the
// demux thread is its only owner.
type Queue[T Releaser] struct {
	slots []T
	front int
	rear  int
	size  int
}

// New creates a queue holding at most capacity items. Capacities below one are
// raised to one.
func New[T Releaser](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{slots: make([]T, capacity)}
}

// Enqueue appends item. It returns false, leaving the queue untouched, when the
// queue is full; ownership of item then stays with the caller.
func (q *Queue[T]) Enqueue(item T) bool {
	if q.size == len(q.slots) {
		return false
	}
	q.slots[q.rear] = item
	q.rear = (q.rear + 1) % len(q.slots)
	q.size++
	return true
}

// Dequeue removes the oldest item and hands ownership to the caller. It returns
// false on an empty queue.
func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.slots[q.front]
	q.slots[q.front] = zero
	q.front = (q.front + 1) % len(q.slots)
	q.size--
	return item, true
}

// Flush releases every queued item without handing it to anyone and returns
// the number released. Flushing an empty queue is a no-op.
func (q *Queue[T]) Flush() int {
	n := 0
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		item.Release()
		n++
	}
	q.front, q.rear = 0, 0
	return n
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return q.size }

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int { return len(q.slots) }

// Full reports whether Enqueue would fail.
func (q *Queue[T]) Full() bool { return q.size == len(q.slots) }

// Empty reports whether Dequeue would fail.
func (q *Queue[T]) Empty() bool { return q.size == 0 }
