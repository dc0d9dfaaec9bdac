package dsa

import (
	"container/heap"
	"time"
)

// HeapItem is one entry in a PriorityQueue.
type HeapItem struct {
	Key         string
	Priority    int
	SubmittedAt time.Time
	Value       interface{}

	index int // heap bookkeeping
}

// PriorityQueueConfig controls starvation prevention: an item waiting
// longer than BoostInterval has its effective priority boosted, up to
// MaxBoost levels, so old low-priority entries eventually surface.
type PriorityQueueConfig struct {
	BoostInterval time.Duration
	MaxBoost      int
}

// PriorityQueue is a min-heap over HeapItem.Priority (lower value pops
// first) with age-based starvation prevention.
type PriorityQueue struct {
	items []*HeapItem
	cfg   PriorityQueueConfig
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue(cfg PriorityQueueConfig) *PriorityQueue {
	pq := &PriorityQueue{cfg: cfg}
	heap.Init((*innerHeap)(pq))
	return pq
}

// Push inserts item, honoring age-based priority boosts already accrued.
func (pq *PriorityQueue) Push(item HeapItem) {
	it := item
	heap.Push((*innerHeap)(pq), &it)
}

// Pop removes and returns the lowest-priority (most urgent) item.
func (pq *PriorityQueue) Pop() (*HeapItem, bool) {
	if len(pq.items) == 0 {
		return nil, false
	}
	return heap.Pop((*innerHeap)(pq)).(*HeapItem), true
}

// Peek returns the most urgent item without removing it.
func (pq *PriorityQueue) Peek() (*HeapItem, bool) {
	if len(pq.items) == 0 {
		return nil, false
	}
	return pq.items[0], true
}

// Len returns the number of queued items.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// effectivePriority applies the starvation boost: every BoostInterval an
// item has waited, its priority drops by one level (more urgent), capped
// at MaxBoost levels total.
func (pq *PriorityQueue) effectivePriority(it *HeapItem) int {
	if pq.cfg.BoostInterval <= 0 {
		return it.Priority
	}
	waited := time.Since(it.SubmittedAt)
	boost := int(waited / pq.cfg.BoostInterval)
	if boost > pq.cfg.MaxBoost {
		boost = pq.cfg.MaxBoost
	}
	return it.Priority - boost
}

// innerHeap adapts PriorityQueue to container/heap.Interface.
type innerHeap PriorityQueue

func (h *innerHeap) Len() int { return len(h.items) }

func (h *innerHeap) Less(i, j int) bool {
	pq := (*PriorityQueue)(h)
	return pq.effectivePriority(h.items[i]) < pq.effectivePriority(h.items[j])
}

func (h *innerHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *innerHeap) Push(x interface{}) {
	item := x.(*HeapItem)
	item.index = len(h.items)
	h.items = append(h.items, item)
}

func (h *innerHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}
