// Package sched implements the single-hart cooperative scheduler of
// spec.md §4.10: a FIFO ready queue and a processor holding the
// current thread, with context switch modelled as a stored
// continuation per spec.md §9's "coroutine-like control flow" design
// note. Go offers no portable way to save/restore raw register state,
// so the continuation here is a goroutine parked on its own resume
// channel — the Go-idiomatic analogue of the teacher's assembly
// Swtch, grounded on the cooperative single-goroutine-runs-at-a-time
// discipline original_source's Processor::run enforces.
package sched

import (
	"container/list"
	"sync"

	"github.com/rvos/kernel/internal/klog"
)

var log = klog.Get("sched")

// Status is a thread's scheduling state.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusBlocked
	StatusZombie
)

// Thread is the scheduler's view of a runnable continuation. Payload
// carries the owning package's task-control-block; sched never
// dereferences it.
type Thread struct {
	ID       int
	Payload  any
	ExitCode int

	mu     sync.Mutex
	status Status
	resume chan struct{}
}

// NewThread constructs a parked thread and immediately starts its
// body in a goroutine blocked on the first schedule.
func NewThread(id int, payload any, body func()) *Thread {
	t := &Thread{ID: id, Payload: payload, status: StatusReady, resume: make(chan struct{})}
	go func() {
		<-t.resume
		body()
		exitCurrent(t, 0)
	}()
	return t
}

func (t *Thread) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Thread) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// manager owns the FIFO ready queue, per spec.md §4.10.
type manager struct {
	mu    sync.Mutex
	ready *list.List
}

func newManager() *manager { return &manager{ready: list.New()} }

func (m *manager) addTask(t *Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.setStatus(StatusReady)
	m.ready.PushBack(t)
}

func (m *manager) popNext() *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.ready.Front()
	if e == nil {
		return nil
	}
	m.ready.Remove(e)
	return e.Value.(*Thread)
}

// processor holds the single hart's current thread, per spec.md §4.10.
type processor struct {
	mu      sync.Mutex
	current *Thread
	notify  chan *Thread
}

func newProcessor() *processor { return &processor{notify: make(chan *Thread)} }

func (p *processor) setCurrent(t *Thread) {
	p.mu.Lock()
	p.current = t
	p.mu.Unlock()
}

func (p *processor) Current() *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

var (
	mgr  = newManager()
	proc = newProcessor()
)

// AddTask enqueues t at the ready queue's tail.
func AddTask(t *Thread) { mgr.addTask(t) }

// Current returns the thread presently running on the hart, or nil if
// the idle loop itself is executing.
func Current() *Thread { return proc.Current() }

// RunTasks is the idle loop: pop a thread, record it current, hand it
// the hart, and wait for it to suspend, block, or exit before popping
// the next. It returns when the ready queue is empty and no thread
// remains runnable.
func RunTasks() {
	for {
		t := mgr.popNext()
		if t == nil {
			return
		}
		t.setStatus(StatusRunning)
		proc.setCurrent(t)
		log.Debug().Int("tid", t.ID).Msg("scheduling thread")
		t.resume <- struct{}{}
		<-proc.notify
		proc.setCurrent(nil)
	}
}

// SuspendCurrentAndRunNext re-enqueues the running thread at the ready
// queue's tail and parks it until rescheduled, per spec.md §4.10.
func SuspendCurrentAndRunNext() {
	t := proc.Current()
	mgr.addTask(t)
	proc.notify <- t
	<-t.resume
}

// BlockCurrentAndRunNext parks the running thread without re-enqueuing
// it; some other caller (a wait-queue owner) must later call WakeUp.
func BlockCurrentAndRunNext() {
	t := proc.Current()
	t.setStatus(StatusBlocked)
	proc.notify <- t
	<-t.resume
}

// WakeUp moves a blocked thread back onto the ready queue's tail.
func WakeUp(t *Thread) { mgr.addTask(t) }

// exitCurrent marks t a zombie and hands control back to the idle
// loop without parking — the thread's goroutine returns after this.
func exitCurrent(t *Thread, code int) {
	t.mu.Lock()
	t.status = StatusZombie
	t.ExitCode = code
	t.mu.Unlock()
	proc.notify <- t
}

// ExitCurrent is called by a running thread body to terminate itself
// with an explicit exit code instead of simply returning.
func ExitCurrent(code int) {
	t := proc.Current()
	exitCurrent(t, code)
	<-t.resume // never fires; parks the goroutine forever at exit
}
