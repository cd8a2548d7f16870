// Package blockcache implements the 16-slot FIFO block cache with
// dirty writeback (spec.md §4.4), grounded on the teacher's
// Bdev_block_t/BlkList_t (fs/blk.go): a mutex-protected slot holding a
// backing buffer, block id, and dirty flag, with a container/list-based
// FIFO the manager walks for eviction. The id->slot lookup is
// generalized to github.com/google/btree to make the miss path O(log n)
// as the pack's domain-stack wiring calls for.
package blockcache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/rvos/kernel/internal/blockdev"
	"github.com/rvos/kernel/internal/klog"
)

var log = klog.Get("fs.blockcache")

// MaxSlots is the fixed cache size: a teaching choice, not a
// production replacement policy (spec.md §9 open question).
const MaxSlots = 16

// Slot is a single cached 512-byte block, protected by its own mutex
// so at most one holder mutates it at a time (spec.md §5).
type Slot struct {
	mu    sync.Mutex
	id    int
	dirty bool
	dev   blockdev.Device
	buf   [blockdev.BlockSize]byte

	refs int32 // 1 == held only by the manager's index (evictable)
	elem *list.Element
}

// ID returns the block id this slot caches.
func (s *Slot) ID() int { return s.id }

func (s *Slot) writebackLocked() {
	if s.dirty {
		s.dev.WriteBlock(s.id, &s.buf)
		s.dirty = false
	}
}

// Read hands the caller a typed, read-only view into the slot's buffer
// at the given byte offset, bounds-checked against the 512-byte block.
func Read[T any](s *Slot, offset int, f func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(typedPtr[T](s, offset))
}

// Modify is like Read but marks the slot dirty, since the callback may
// mutate the referenced value.
func Modify[T any](s *Slot, offset int, f func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(typedPtr[T](s, offset))
	s.dirty = true
}

func typedPtr[T any](s *Slot, offset int) *T {
	var zero T
	sz := sizeOf(zero)
	if offset < 0 || offset+sz > len(s.buf) {
		panic(fmt.Sprintf("blockcache: offset %d size %d out of bounds for block %d", offset, sz, s.id))
	}
	return (*T)(ptrAt(&s.buf, offset))
}

// Manager is the process-wide singleton cache of up to MaxSlots
// blocks, protected by its own mutex (spec.md §4.4, §5).
type Manager struct {
	mu    sync.Mutex
	dev   blockdev.Device
	fifo  *list.List // FIFO eviction order, oldest at Front
	index *btree.BTreeG[*Slot]
}

func lessByID(a, b *Slot) bool { return a.id < b.id }

// NewManager constructs an empty cache manager backed by dev.
func NewManager(dev blockdev.Device) *Manager {
	return &Manager{
		dev:   dev,
		fifo:  list.New(),
		index: btree.NewG(8, lessByID),
	}
}

// Get returns a handle to the slot for id, loading it from disk on a
// miss. On a miss with the cache full, evicts the first (FIFO-oldest)
// slot whose shared-count has fallen to one — no outside holder —
// panicking if none exists, per spec.md §4.4.
func (m *Manager) Get(id int) *Slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	probe := &Slot{id: id}
	if found, ok := m.index.Get(probe); ok {
		found.refs++
		return found
	}

	if m.index.Len() >= MaxSlots {
		victim := m.evictLocked()
		if victim == nil {
			panic("blockcache: cache full and every slot has an outside holder")
		}
	}

	s := &Slot{id: id, dev: m.dev, refs: 2}
	m.dev.ReadBlock(id, &s.buf)
	s.elem = m.fifo.PushBack(s)
	m.index.ReplaceOrInsert(s)
	return s
}

// evictLocked scans the FIFO list oldest-first for a slot with no
// outside holder, evicts it (writing back if dirty), and returns it.
// Returns nil if every slot is held.
func (m *Manager) evictLocked() *Slot {
	for e := m.fifo.Front(); e != nil; e = e.Next() {
		s := e.Value.(*Slot)
		if s.refs == 1 {
			m.fifo.Remove(e)
			m.index.Delete(s)
			s.mu.Lock()
			s.writebackLocked()
			s.mu.Unlock()
			log.Debug().Int("block", s.id).Msg("evicted block cache slot")
			return s
		}
	}
	return nil
}

// Release gives up the caller's hold on a slot obtained from Get. It
// does not itself evict or write back; eviction happens lazily on the
// next miss, matching the teacher's Relse-on-drop idiom generalized to
// an explicit release call.
func (m *Manager) Release(s *Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs < 1 {
		panic("blockcache: released slot more times than acquired")
	}
}

// SyncAll walks the cache and flushes every dirty slot without
// evicting anything, per spec.md §4.4's sync_all.
func (m *Manager) SyncAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for e := m.fifo.Front(); e != nil; e = e.Next() {
		s := e.Value.(*Slot)
		s.mu.Lock()
		s.writebackLocked()
		s.mu.Unlock()
	}
}

// Len reports how many slots currently occupy the cache.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Len()
}
