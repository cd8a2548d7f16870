// Package pipe implements the 32-byte bounded ring buffer pipe of
// spec.md §4.7, grounded on the teacher's Circbuf_t
// (biscuit/src/circbuf/circbuf.go) for the head/tail/status ring
// idiom, generalized from a lazily-allocated physical page to a plain
// byte array sized to the ring the spec names, and wired to
// internal/sched for the voluntary-yield blocking semantics
// original_source's pipe.rs uses instead of circbuf's page ownership.
package pipe

import (
	"sync"

	"github.com/rvos/kernel/internal/sched"
)

// Capacity is the fixed ring size in bytes.
const Capacity = 32

type ringStatus int

const (
	statusEmpty ringStatus = iota
	statusNormal
	statusFull
)

type ring struct {
	mu   sync.Mutex
	buf  [Capacity]byte
	head int
	tail int
	stat ringStatus

	writers int // live write-end count; zero means all writers dropped

	readWaiters  []*sched.Thread
	writeWaiters []*sched.Thread
}

// ReadEnd is the read half of a pipe.
type ReadEnd struct{ r *ring }

// WriteEnd is the write half of a pipe.
type WriteEnd struct{ r *ring }

// New creates a connected read/write pair.
func New() (*ReadEnd, *WriteEnd) {
	r := &ring{stat: statusEmpty, writers: 1}
	return &ReadEnd{r: r}, &WriteEnd{r: r}
}

func (r *ring) available() int {
	if r.stat == statusFull {
		return Capacity
	}
	if r.stat == statusEmpty {
		return 0
	}
	if r.head > r.tail {
		return r.head - r.tail
	}
	return Capacity - r.tail + r.head
}

func (r *ring) freeSpace() int { return Capacity - r.available() }

func (r *ring) wakeReaders() {
	w := r.readWaiters
	r.readWaiters = nil
	for _, t := range w {
		sched.WakeUp(t)
	}
}

func (r *ring) wakeWriters() {
	w := r.writeWaiters
	r.writeWaiters = nil
	for _, t := range w {
		sched.WakeUp(t)
	}
}

// Read copies up to len(buf) bytes out of the ring, blocking while
// empty and at least one write-end remains open. It returns 0 once
// the ring is empty and every write-end has closed (spec.md §4.7).
func (r *ring) Read(buf []byte) int {
	for {
		r.mu.Lock()
		if r.stat != statusEmpty {
			n := 0
			for n < len(buf) && r.stat != statusEmpty {
				buf[n] = r.buf[r.tail]
				r.tail = (r.tail + 1) % Capacity
				n++
				if r.tail == r.head {
					r.stat = statusEmpty
				} else {
					r.stat = statusNormal
				}
			}
			r.wakeWriters()
			r.mu.Unlock()
			return n
		}
		if r.writers == 0 {
			r.mu.Unlock()
			return 0
		}
		r.readWaiters = append(r.readWaiters, sched.Current())
		r.mu.Unlock()
		sched.BlockCurrentAndRunNext()
	}
}

// Write copies all of buf into the ring, blocking while full.
func (r *ring) Write(buf []byte) int {
	written := 0
	for written < len(buf) {
		r.mu.Lock()
		if r.stat != statusFull {
			for written < len(buf) && r.stat != statusFull {
				r.buf[r.head] = buf[written]
				r.head = (r.head + 1) % Capacity
				written++
				if r.head == r.tail {
					r.stat = statusFull
				} else {
					r.stat = statusNormal
				}
			}
			r.wakeReaders()
			r.mu.Unlock()
			continue
		}
		r.writeWaiters = append(r.writeWaiters, sched.Current())
		r.mu.Unlock()
		sched.BlockCurrentAndRunNext()
	}
	return written
}

// Read reads from the pipe's read end.
func (e *ReadEnd) Read(buf []byte) int { return e.r.Read(buf) }

// Write writes to the pipe's write end.
func (e *WriteEnd) Write(buf []byte) int { return e.r.Write(buf) }

// Close drops this write-end; once every write-end has closed, blocked
// and future reads observe EOF (a 0-byte read) once the ring drains.
func (e *WriteEnd) Close() {
	e.r.mu.Lock()
	e.r.writers--
	wake := e.r.writers == 0
	e.r.mu.Unlock()
	if wake {
		e.r.mu.Lock()
		e.r.wakeReaders()
		e.r.mu.Unlock()
	}
}

// Dup adds another live reference to this write-end, mirroring fork's
// fd-table duplication (spec.md §4.12).
func (e *WriteEnd) Dup() *WriteEnd {
	e.r.mu.Lock()
	e.r.writers++
	e.r.mu.Unlock()
	return &WriteEnd{r: e.r}
}
