package transport

import (
	"container/heap"
	"context"
	"sync"
)

// priorityQueue is a bounded, priority-ordered (1=highest) FIFO-within-
// priority queue. On overflow the lowest-priority item at the tail of its
// priority band is dropped to make room for a strictly higher-priority
// incoming message; an incoming message of equal or lower priority is
// dropped itself, and an existing item is never evicted in its favor.
type priorityQueue struct {
	mu       sync.Mutex
	notEmpty chan struct{}
	items    pqHeap
	capacity int
	seq      uint64
	dropped  uint64
}

type pqItem struct {
	msg   *Message
	seq   uint64 // insertion order, breaks priority ties FIFO
	index int
}

type pqHeap []*pqItem

func (h pqHeap) Len() int { return len(h) }
func (h pqHeap) Less(i, j int) bool {
	if h[i].msg.Header.Priority != h[j].msg.Header.Priority {
		return h[i].msg.Header.Priority < h[j].msg.Header.Priority
	}
	return h[i].seq < h[j].seq
}
func (h pqHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *pqHeap) Push(x interface{}) {
	item := x.(*pqItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *pqHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func newPriorityQueue(capacity int) *priorityQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	q := &priorityQueue{capacity: capacity, notEmpty: make(chan struct{}, 1)}
	heap.Init(&q.items)
	return q
}

// Push enqueues msg, evicting the current lowest-priority, most recently
// enqueued item if the queue is at capacity and msg has strictly higher
// priority than it.
func (q *priorityQueue) Push(msg *Message) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() >= q.capacity {
		// Find the lowest-priority item, tie-broken toward the one most
		// recently enqueued (the tail of its priority band).
		worst := q.items[0]
		for _, it := range q.items {
			if it.msg.Header.Priority > worst.msg.Header.Priority ||
				(it.msg.Header.Priority == worst.msg.Header.Priority && it.seq > worst.seq) {
				worst = it
			}
		}
		if msg.Header.Priority >= worst.msg.Header.Priority {
			// Incoming message is no better than the current worst item:
			// drop the incoming message, never the existing higher-or-equal
			// priority one.
			q.dropped++
			return true
		}
		heap.Remove(&q.items, worst.index)
		q.dropped++
	}

	q.seq++
	heap.Push(&q.items, &pqItem{msg: msg, seq: q.seq})
	q.signal()
	return false
}

func (q *priorityQueue) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// Pop removes and returns the highest-priority, oldest-enqueued message,
// or blocks until one is available or ctx is done; callers bound the wait
// with a ctx deadline.
func (q *priorityQueue) Pop(ctx context.Context) (*Message, bool) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			item := heap.Pop(&q.items).(*pqItem)
			q.mu.Unlock()
			return item.msg, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notEmpty:
		}
	}
}

// TryPop removes and returns the head message without blocking.
func (q *priorityQueue) TryPop() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(*pqItem)
	return item.msg, true
}

func (q *priorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *priorityQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
