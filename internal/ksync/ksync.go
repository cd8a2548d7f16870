// Package ksync implements the kernel's synchronization primitives
// (spec.md §4.11): a spin mutex, a FIFO blocking mutex, a semaphore,
// a condition variable, and a sleep timer. Each blocking primitive
// suspends via sched.BlockCurrentAndRunNext and wakes waiters via
// sched.WakeUp, grounded on original_source's sync module (mutex.rs,
// semaphore.rs, condvar.rs) for the wait-queue shapes and on the
// teacher's embedded sync.Mutex idiom (most biscuit types embed
// sync.Mutex directly) for how locking state is carried on the struct.
package ksync

import (
	"container/list"
	"sync"

	"github.com/rvos/kernel/internal/sched"
)

// SpinMutex retries by yielding to the scheduler on contention instead
// of busy-spinning the hart, since this kernel is single-hart
// cooperative (spec.md §4.11).
type SpinMutex struct {
	inner sync.Mutex
	held  bool
	mu    sync.Mutex
}

// Lock acquires the mutex, yielding and retrying while it is held.
func (m *SpinMutex) Lock() {
	for {
		m.mu.Lock()
		if !m.held {
			m.held = true
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		sched.SuspendCurrentAndRunNext()
	}
}

// Unlock releases the mutex.
func (m *SpinMutex) Unlock() {
	m.mu.Lock()
	m.held = false
	m.mu.Unlock()
}

// Mutex is the FIFO blocking mutex: a boolean plus a wait queue of
// blocked threads, per spec.md §4.11.
type Mutex struct {
	mu    sync.Mutex
	held  bool
	queue *list.List // FIFO of *sched.Thread
}

// NewMutex constructs an unheld blocking mutex.
func NewMutex() *Mutex { return &Mutex{queue: list.New()} }

// Lock takes the mutex if free, else appends the current thread to
// the wait queue and blocks.
func (m *Mutex) Lock() {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return
	}
	m.queue.PushBack(sched.Current())
	m.mu.Unlock()
	sched.BlockCurrentAndRunNext()
}

// Unlock wakes the head of the wait queue if any, else clears the
// held bit.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.queue.Front(); e != nil {
		m.queue.Remove(e)
		sched.WakeUp(e.Value.(*sched.Thread))
		return
	}
	m.held = false
}

// Semaphore is the counting semaphore of spec.md §4.11: count may go
// negative, one waiter being released per Up while count <= 0.
type Semaphore struct {
	mu    sync.Mutex
	count int
	queue *list.List
}

// NewSemaphore constructs a semaphore with the given initial count.
func NewSemaphore(count int) *Semaphore {
	return &Semaphore{count: count, queue: list.New()}
}

// Up increments the count, waking the oldest waiter if the count is
// still at or below zero after incrementing.
func (s *Semaphore) Up() {
	s.mu.Lock()
	s.count++
	var woken *sched.Thread
	if s.count <= 0 {
		if e := s.queue.Front(); e != nil {
			s.queue.Remove(e)
			woken = e.Value.(*sched.Thread)
		}
	}
	s.mu.Unlock()
	if woken != nil {
		sched.WakeUp(woken)
	}
}

// Down decrements the count, blocking if it goes negative.
func (s *Semaphore) Down() {
	s.mu.Lock()
	s.count--
	block := s.count < 0
	if block {
		s.queue.PushBack(sched.Current())
	}
	s.mu.Unlock()
	if block {
		sched.BlockCurrentAndRunNext()
	}
}

// Condvar is the FIFO condition variable of spec.md §4.11.
type Condvar struct {
	mu    sync.Mutex
	queue *list.List
}

// NewCondvar constructs an empty condition variable.
func NewCondvar() *Condvar { return &Condvar{queue: list.New()} }

// Wait releases m, blocks the calling thread, and reacquires m before
// returning once woken — the release and enqueue happen atomically
// with respect to Signal.
func (c *Condvar) Wait(m *Mutex) {
	c.mu.Lock()
	c.queue.PushBack(sched.Current())
	c.mu.Unlock()

	m.Unlock()
	sched.BlockCurrentAndRunNext()
	m.Lock()
}

// Signal wakes the oldest waiter, if any.
func (c *Condvar) Signal() {
	c.mu.Lock()
	e := c.queue.Front()
	if e != nil {
		c.queue.Remove(e)
	}
	c.mu.Unlock()
	if e != nil {
		sched.WakeUp(e.Value.(*sched.Thread))
	}
}
