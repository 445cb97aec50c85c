package gatherer

import (
	"container/heap"
	"time"

	"github.com/edirooss/opcua-historian/internal/hdtypes"
)

// schedEvent is one pending poll tick.
// index is required for heap.Fix + O(log n) removals.
type schedEvent struct {
	node  hdtypes.NodeId
	when  time.Time
	index int
}

// scheduler is a min-heap of poll deadlines shared across every
// historized node, so one goroutine can drive many nodes' polling
// without a timer per node.
type scheduler struct {
	h       eventHeap
	entries map[hdtypes.NodeId]*schedEvent
}

func newScheduler() *scheduler {
	h := eventHeap{}
	heap.Init(&h)
	return &scheduler{
		h:       h,
		entries: make(map[hdtypes.NodeId]*schedEvent),
	}
}

// push schedules node's next tick at when, replacing any pending one.
func (s *scheduler) push(node hdtypes.NodeId, when time.Time) {
	if old, ok := s.entries[node]; ok {
		heap.Remove(&s.h, old.index)
		delete(s.entries, node)
	}
	ev := &schedEvent{node: node, when: when}
	s.entries[node] = ev
	heap.Push(&s.h, ev)
}

// next returns the soonest event without removing it.
func (s *scheduler) next() (node hdtypes.NodeId, when time.Time, ok bool) {
	if len(s.h) == 0 {
		return nil, time.Time{}, false
	}
	ev := s.h[0]
	return ev.node, ev.when, true
}

// pop removes the head event unconditionally.
func (s *scheduler) pop() {
	if len(s.h) == 0 {
		return
	}
	ev := heap.Pop(&s.h).(*schedEvent)
	delete(s.entries, ev.node)
}

// remove deletes the pending event for node, if any.
func (s *scheduler) remove(node hdtypes.NodeId) {
	ev, ok := s.entries[node]
	if !ok {
		return
	}
	heap.Remove(&s.h, ev.index)
	delete(s.entries, node)
}

// --- heap internals ----------------------------------------------------------

type eventHeap []*schedEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	return h[i].when.Before(h[j].when)
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*schedEvent)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	ev.index = -1
	*h = old[:n-1]
	return ev
}
