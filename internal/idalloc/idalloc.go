// Package idalloc implements the generic recycling id allocator used
// for PIDs, TIDs, and kernel-stack slots (spec.md §4.8): a monotonic
// cursor plus a LIFO recycled stack, grounded on the teacher's accnt
// package counter idiom (biscuit/src/accnt/accnt.go uses an
// allocate-and-never-shrink counter; this generalizes it with the
// recycling half original_source's id allocator adds).
package idalloc

import "sync"

// Allocator hands out non-negative ids starting at base, recycling
// freed ids in LIFO order before minting new ones.
type Allocator struct {
	mu        sync.Mutex
	base      int
	current   int
	recycled  []int
	allocated map[int]bool
}

// New constructs an allocator whose first minted id is base.
func New(base int) *Allocator {
	return &Allocator{base: base, current: base, allocated: map[int]bool{}}
}

// Alloc returns a fresh or recycled id.
func (a *Allocator) Alloc() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.recycled); n > 0 {
		id := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		a.allocated[id] = true
		return id
	}
	id := a.current
	a.current++
	a.allocated[id] = true
	return id
}

// Dealloc returns id to the recycled stack, panicking if id was never
// handed out or was already freed — a programmer-error invariant
// (spec.md §7 kind (4)).
func (a *Allocator) Dealloc(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.allocated[id] {
		panic("idalloc: dealloc of id that is not currently allocated")
	}
	delete(a.allocated, id)
	a.recycled = append(a.recycled, id)
}
