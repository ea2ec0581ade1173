// Package scheduler implements the in-process priority scheduler: a
// max-heap over accepted deliveries, reordered by declared priority so
// the dispatch loop always hands the highest-priority waiting task to
// the admission gate first. One mutex guards the heap state; holders
// perform no I/O while locked.
package scheduler

import (
	"container/heap"
	"sync"

	"github.com/hrygo/taskqueue/internal/broker"
	"github.com/hrygo/taskqueue/internal/task"
)

// ScheduledTask pairs a delivery with its decoded message and extracted
// priority. It lives only inside the scheduler and the execution
// supervisor between consume and execute.
type ScheduledTask struct {
	Priority int
	Delivery broker.Delivery
	Message  task.Message
}

// item is the heap element: a ScheduledTask plus an insertion sequence
// number used to break priority ties deterministically — arbitrarily but
// consistently within one run.
type item struct {
	task *ScheduledTask
	seq  int64
}

type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Scheduler is a thread-safe max-heap of ScheduledTasks keyed by
// priority. Offer and Poll are safe for concurrent use from independent
// producers and consumers.
type Scheduler struct {
	mu   sync.Mutex
	heap priorityHeap
	next int64
}

// New returns an empty Scheduler.
func New() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.heap)
	return s
}

// Offer adds t to the heap. O(log n), never blocks, never rejects.
func (s *Scheduler) Offer(t *ScheduledTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.heap, &item{task: t, seq: s.next})
	s.next++
}

// Poll removes and returns the highest-priority ScheduledTask, or
// (nil, false) when the scheduler is empty. O(log n).
func (s *Scheduler) Poll() (*ScheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return nil, false
	}
	it := heap.Pop(&s.heap).(*item)
	return it.task, true
}

// Len reports the number of tasks currently buffered, for metrics and
// tests.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}
