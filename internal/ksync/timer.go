package ksync

import (
	"container/heap"
	"sync"

	"github.com/rvos/kernel/internal/sched"
)

// timerEntry is one pending sleeper.
type timerEntry struct {
	expireMS int64
	thread   *sched.Thread
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].expireMS < h[j].expireMS }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Timer is the sleep-timer min-heap of spec.md §4.11: AddTimer parks
// the calling thread with an expiry; Tick wakes everything due.
type Timer struct {
	mu sync.Mutex
	h  timerHeap
}

// NewTimer constructs an empty timer heap.
func NewTimer() *Timer { return &Timer{} }

// AddTimer registers the current thread to wake at expireMS and blocks
// it immediately (spec.md §4.10: "sleep calls add_timer then blocks").
func (t *Timer) AddTimer(expireMS int64) {
	t.mu.Lock()
	heap.Push(&t.h, &timerEntry{expireMS: expireMS, thread: sched.Current()})
	t.mu.Unlock()
	sched.BlockCurrentAndRunNext()
}

// Tick wakes every sleeper whose expiry is at or before nowMS, per
// spec.md §4.14: "rearm timer, wake any expired sleepers" on each
// timer trap, before the preemptive reschedule.
func (t *Timer) Tick(nowMS int64) {
	var woken []*sched.Thread
	t.mu.Lock()
	for t.h.Len() > 0 && t.h[0].expireMS <= nowMS {
		e := heap.Pop(&t.h).(*timerEntry)
		woken = append(woken, e.thread)
	}
	t.mu.Unlock()
	for _, th := range woken {
		sched.WakeUp(th)
	}
}
