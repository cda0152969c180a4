package memstore

import "container/heap"

// deadlineItem is a key scheduled for expiry at a unix millisecond deadline
type deadlineItem struct {
	key      string
	deadline int64
	index    int // maintained by container/heap
}

// expiryQueue is a min heap of deadlines with key based access, so a key's
// deadline can be moved or dropped when the key is rewritten.
// It is not safe for concurrent use.
type expiryQueue struct {
	items []*deadlineItem
	byKey map[string]*deadlineItem
}

func newExpiryQueue() *expiryQueue {
	return &expiryQueue{byKey: make(map[string]*deadlineItem)}
}

// heap.Interface

func (q *expiryQueue) Len() int { return len(q.items) }

func (q *expiryQueue) Less(i, j int) bool { return q.items[i].deadline < q.items[j].deadline }

func (q *expiryQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *expiryQueue) Push(x interface{}) {
	it := x.(*deadlineItem)
	it.index = len(q.items)
	q.items = append(q.items, it)
	q.byKey[it.key] = it
}

func (q *expiryQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	q.items = old[:n-1]
	delete(q.byKey, it.key)
	return it
}

// schedule sets the deadline of a key, replacing a previous one
func (q *expiryQueue) schedule(key string, deadline int64) {
	if it, ok := q.byKey[key]; ok {
		it.deadline = deadline
		heap.Fix(q, it.index)
		return
	}
	heap.Push(q, &deadlineItem{key: key, deadline: deadline})
}

// cancel removes the deadline of a key
func (q *expiryQueue) cancel(key string) {
	if it, ok := q.byKey[key]; ok {
		heap.Remove(q, it.index)
	}
}

// popDue removes and returns all keys with a deadline at or before now
func (q *expiryQueue) popDue(now int64) []deadlineItem {
	var due []deadlineItem
	for len(q.items) > 0 && q.items[0].deadline <= now {
		due = append(due, *heap.Pop(q).(*deadlineItem))
	}
	return due
}
