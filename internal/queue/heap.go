package queue

import (
	"time"

	"vidgen/internal/domain"
)

type item struct {
	job   domain.QueuedJob
	seq   uint64
	index int
	// delayed is true while the item sits in the retry heap.
	delayed bool
	// cancelled is set when a cancel arrives while a worker holds the item.
	cancelled bool
	done      chan struct{}
}

// before orders by priority (high first), then enqueue time, then submission order.
func before(a, b *item) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	if !a.job.EnqueuedAt.Equal(b.job.EnqueuedAt) {
		return a.job.EnqueuedAt.Before(b.job.EnqueuedAt)
	}
	return a.seq < b.seq
}

type readyHeap []*item

func (h readyHeap) Len() int           { return len(h) }
func (h readyHeap) Less(i, j int) bool { return before(h[i], h[j]) }
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	it.delayed = false
	*h = append(*h, it)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// delayedHeap holds jobs waiting for their next retry time.
type delayedHeap []*item

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	a, b := h[i].job.NextRetryAt, h[j].job.NextRetryAt
	if !a.Equal(b) {
		return a.Before(b)
	}
	return before(h[i], h[j])
}
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	it.delayed = true
	*h = append(*h, it)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	it.delayed = false
	*h = old[:n-1]
	return it
}

func (h delayedHeap) nextAt() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].job.NextRetryAt, true
}
