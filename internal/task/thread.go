package task

import (
	"github.com/rvos/kernel/internal/mem"
	"github.com/rvos/kernel/internal/sched"
	"github.com/rvos/kernel/internal/vm"
)

// Thread is a task control block (spec.md §4.9): a TID scoped to its
// owning process, the kernel-stack slot backing its trap entry, and
// the generic scheduler thread driving its execution. Per-thread
// syscall counts are tracked in Accnt for diagnostics only, grounded
// on the teacher's accnt.Accnt_t idiom (not part of the syscall ABI).
type Thread struct {
	TID        int
	Proc       *Process
	KStackSlot int

	SchedThread *sched.Thread
	Accnt       Accnt
}

// Accnt counts syscalls observed on a thread, by id, purely for
// diagnostics (spec.md SUPPLEMENTED FEATURES).
type Accnt struct {
	Counts map[int]int
}

// Record tallies one observed use of syscall id sysID.
func (a *Accnt) Record(sysID int) {
	if a.Counts == nil {
		a.Counts = make(map[int]int)
	}
	a.Counts[sysID]++
}

// TrapContext returns a live pointer into the thread's trap-context
// page, letting callers (the trap dispatcher) read and write saved
// registers directly.
func (th *Thread) TrapContext() *TrapContext {
	page, ok := th.Proc.AS.FramePage(vm.TrapContextVPN(th.TID))
	if !ok {
		panic("task: thread has no trap context page")
	}
	return trapContextPtr(page)
}

// argcArgvAddrs records the addresses produced by pushArgv, consumed
// by Exec to seed the fresh trap context's a0/a1 and stack pointer.
type argcArgvAddrs struct {
	sp   uint64
	base uint64
}

// pushArgv writes argv as NUL-terminated byte strings below the stack
// top, followed by a pointer array (also below the strings) terminated
// by a zero pointer, 8-byte aligned throughout — spec.md §4.12's
// "push argv onto the user stack as an array of C-string pointers".
// It writes through the user stack's top framed page only; the helper
// assumes a single-page-resident layout, adequate for the small argv
// lists this kernel's init/shell pass.
func pushArgv(as *vm.AddressSpace, stackTop mem.VirtAddr, argv []string) argcArgvAddrs {
	topVPN := (stackTop - 1).Floor()
	page, ok := as.FramePage(topVPN)
	if !ok {
		panic("task: pushArgv: user stack top page not resident")
	}

	pageBase := topVPN.Addr()
	cursor := uint64(stackTop)

	strAddrs := make([]uint64, len(argv))
	for i, s := range argv {
		b := append([]byte(s), 0)
		cursor -= uint64(len(b))
		off := cursor - uint64(pageBase)
		copy(page[off:], b)
		strAddrs[i] = cursor
	}
	cursor &^= 7 // align to 8 bytes before the pointer array

	cursor -= 8 // NUL terminator slot
	writeU64(page, cursor-uint64(pageBase), 0)
	for i := len(strAddrs) - 1; i >= 0; i-- {
		cursor -= 8
		writeU64(page, cursor-uint64(pageBase), strAddrs[i])
	}
	base := cursor
	cursor &^= 7

	return argcArgvAddrs{sp: cursor, base: base}
}

func writeU64(page *mem.Page, off uint64, v uint64) {
	for i := 0; i < 8; i++ {
		page[off+uint64(i)] = byte(v >> (8 * i))
	}
}
