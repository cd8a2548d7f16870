package task

import (
	"sync"

	"github.com/rvos/kernel/internal/idalloc"
	"github.com/rvos/kernel/internal/klog"
	"github.com/rvos/kernel/internal/mem"
	"github.com/rvos/kernel/internal/sched"
	"github.com/rvos/kernel/internal/vm"
)

var log = klog.Get("task")

var (
	kernelAS      *vm.AddressSpace
	frameAlloc    *mem.FrameAllocator
	trampolinePPN mem.PhysPageNum
	trapHandlerVA mem.VirtAddr

	pidAlloc    = idalloc.New(1)
	kstackAlloc = idalloc.New(0)

	pidMapMu sync.Mutex
	pidMap   = map[int]*Process{}
)

// Init wires the global kernel resources process creation depends on:
// the kernel's own address space (for installing per-thread kernel
// stacks), the frame allocator backing every address space, the
// physical frame holding the shared trampoline code, and the
// trampoline-relative virtual address of the trap handler entry point.
func Init(kas *vm.AddressSpace, alloc *mem.FrameAllocator, trampoline mem.PhysPageNum, trapHandler mem.VirtAddr) {
	kernelAS = kas
	frameAlloc = alloc
	trampolinePPN = trampoline
	trapHandlerVA = trapHandler
}

// Process is the process control block of spec.md §4.12, grounded on
// original_source/os/src/task/process.rs's ProcessControlBlock(Inner).
// All mutable fields are reached only while mu is held, mirroring the
// "single borrow token" design note in spec.md §5.
type Process struct {
	mu sync.Mutex

	PID        int
	AS         *vm.AddressSpace
	UstackBase mem.VirtPageNum

	Parent   *Process
	Children []*Process

	Threads  []*Thread
	Fds      *FdTable
	tidAlloc *idalloc.Allocator

	Zombie   bool
	ExitCode int
}

func registerProcess(p *Process) {
	pidMapMu.Lock()
	pidMap[p.PID] = p
	pidMapMu.Unlock()
}

// Lookup returns the process for pid, if it is still registered.
func Lookup(pid int) (*Process, bool) {
	pidMapMu.Lock()
	defer pidMapMu.Unlock()
	p, ok := pidMap[pid]
	return p, ok
}

// New builds a fresh process from an ELF image: an address space from
// its loadable segments, a PID, a main thread with its own kernel
// stack and trap context, and fds 0/1/2 wired to stdin/stdout/stderr
// (spec.md §4.12). body is the main thread's program logic; a real
// trap dispatcher would drive it from decoded user-mode syscalls, but
// hosted here it runs as a plain Go closure over the resulting
// *Thread, which is the Go-idiomatic stand-in for "the code the ELF
// would execute" this simulation uses in place of an instruction
// interpreter (see DESIGN.md).
func New(elfData []byte, stdin, stdout File, body func(*Thread)) (*Process, error) {
	as, ustackBaseVPN, entry, err := vm.FromELF(elfData, frameAlloc)
	if err != nil {
		return nil, err
	}
	return NewFromAddressSpace(as, ustackBaseVPN, entry, stdin, stdout, body), nil
}

// NewFromAddressSpace builds a process around an already-constructed
// address space, skipping ELF parsing. New uses this after FromELF;
// kernel-built-in programs (and tests) that have no ELF image to parse
// use it directly, supplying an address space assembled by hand.
func NewFromAddressSpace(as *vm.AddressSpace, ustackBaseVPN mem.VirtPageNum, entry mem.VirtAddr, stdin, stdout File, body func(*Thread)) *Process {
	as.MapTrampoline(trampolinePPN)

	p := &Process{
		PID:        pidAlloc.Alloc(),
		AS:         as,
		UstackBase: ustackBaseVPN,
		Fds:        &FdTable{},
		tidAlloc:   idalloc.New(0),
	}
	p.Fds.Alloc(stdin)
	p.Fds.Alloc(stdout) // fd 1: stdout
	p.Fds.Alloc(stdout) // fd 2: stderr, same sink as stdout per original_source

	th := p.spawnThread(entry, nil, body)
	registerProcess(p)
	sched.AddTask(th.SchedThread)
	log.Debug().Int("pid", p.PID).Msg("process created")
	return p
}

// spawnThread allocates a TID, kernel stack, trap-context page, and
// user stack for a new thread, writes its initial trap context, and
// registers body as its runnable program with the scheduler.
func (p *Process) spawnThread(entry mem.VirtAddr, argcArgv *argcArgvAddrs, body func(*Thread)) *Thread {
	tid := p.tidAlloc.Alloc()
	kslot := kstackAlloc.Alloc()
	kernelAS.InsertKernelStack(kslot)
	p.AS.InsertTrapContext(tid)
	p.AS.InsertUserStack(p.UstackBase, tid)

	_, ustackHi := vm.UserStackVPNRange(p.UstackBase, tid)
	_, kstackHi := vm.KernelStackVPNRange(kslot)

	sp := ustackHi.Addr()
	tc := AppInitContext(entry, sp, kernelAS.Token(), kstackHi.Addr(), trapHandlerVA)
	if argcArgv != nil {
		tc.X[2] = argcArgv.sp
		tc.X[11] = argcArgv.base
	}
	page, ok := p.AS.FramePage(vm.TrapContextVPN(tid))
	if !ok {
		panic("task: trap context page missing immediately after insertion")
	}
	*trapContextPtr(page) = tc

	th := &Thread{TID: tid, Proc: p, KStackSlot: kslot}
	th.SchedThread = sched.NewThread(p.PID<<16|tid, th, func() { body(th) })

	p.mu.Lock()
	p.Threads = append(p.Threads, th)
	p.mu.Unlock()
	return th
}

// Exec replaces the calling single-threaded process's address space
// with a fresh one built from elfData, re-homes its main thread's user
// resources, pushes argv onto the new user stack, and hands control to
// newBody (spec.md §4.12). Only single-threaded processes may exec.
// Like real execve, Exec does not return to its caller on success: it
// calls newBody itself and returns only newBody's eventual return —
// any code the calling body placed after the Exec call is dead code in
// a real exec and should be written accordingly here too.
func (p *Process) Exec(elfData []byte, argv []string, newBody func(*Thread)) error {
	as, ustackBaseVPN, entry, err := vm.FromELF(elfData, frameAlloc)
	if err != nil {
		return err
	}
	p.ExecFromAddressSpace(as, ustackBaseVPN, entry, argv, newBody)
	return nil
}

// ExecFromAddressSpace is Exec's address-space-already-built variant,
// used by Exec after FromELF and directly by tests / built-in
// programs with no ELF image.
func (p *Process) ExecFromAddressSpace(as *vm.AddressSpace, ustackBaseVPN mem.VirtPageNum, entry mem.VirtAddr, argv []string, newBody func(*Thread)) {
	p.mu.Lock()
	if len(p.Threads) != 1 {
		p.mu.Unlock()
		panic("task: exec on a process with more than one thread")
	}
	old := p.Threads[0]
	p.mu.Unlock()

	as.MapTrampoline(trampolinePPN)

	p.mu.Lock()
	p.AS = as
	p.UstackBase = ustackBaseVPN
	p.mu.Unlock()

	p.AS.InsertTrapContext(old.TID)
	p.AS.InsertUserStack(p.UstackBase, old.TID)

	_, ustackHi := vm.UserStackVPNRange(p.UstackBase, old.TID)
	argcArgv := pushArgv(p.AS, ustackHi.Addr(), argv)
	_, kstackHi := vm.KernelStackVPNRange(old.KStackSlot)

	tc := AppInitContext(entry, mem.VirtAddr(argcArgv.sp), kernelAS.Token(), kstackHi.Addr(), trapHandlerVA)
	tc.X[10] = uint64(len(argv))
	tc.X[11] = argcArgv.base
	page, _ := p.AS.FramePage(vm.TrapContextVPN(old.TID))
	*trapContextPtr(page) = tc

	newBody(old)
}

// Fork copies the calling single-threaded process's address space
// byte-for-byte, duplicates its fd table, and creates a single main
// thread in the child whose trap context is the parent's with a0
// overwritten to 0 (spec.md §4.12). The returned process has already
// been enqueued with the scheduler. childBody is the child thread's
// program logic: real fork resumes the child from the same program
// counter as the parent, but since this simulation has no instruction
// interpreter to resume, the caller supplies the child's continuation
// explicitly (see DESIGN.md).
func (p *Process) Fork(childBody func(*Thread)) *Process {
	p.mu.Lock()
	if len(p.Threads) != 1 {
		p.mu.Unlock()
		panic("task: fork on a process with more than one thread")
	}
	parentThread := p.Threads[0]
	fds := p.Fds.Dup()
	p.mu.Unlock()

	childAS := vm.FromExistedUser(p.AS, frameAlloc)

	child := &Process{
		PID:        pidAlloc.Alloc(),
		AS:         childAS,
		UstackBase: p.UstackBase,
		Parent:     p,
		Fds:        fds,
		tidAlloc:   idalloc.New(0),
	}

	p.mu.Lock()
	p.Children = append(p.Children, child)
	p.mu.Unlock()

	tid := child.tidAlloc.Alloc()
	kslot := kstackAlloc.Alloc()
	kernelAS.InsertKernelStack(kslot)
	// trap context / user stack were already copied byte-for-byte by
	// FromExistedUser; only the kernel stack is per-OS-thread state
	// that needs a fresh slot.
	_, kstackHi := vm.KernelStackVPNRange(kslot)

	page, ok := child.AS.FramePage(vm.TrapContextVPN(parentThread.TID))
	if !ok {
		panic("task: fork: copied trap context page missing")
	}
	tc := trapContextPtr(page)
	tc.KernelSP = uint64(kstackHi.Addr())
	tc.KernelSatp = kernelAS.Token()
	tc.X[10] = 0 // child observes fork's return value as 0

	th := &Thread{TID: tid, Proc: child, KStackSlot: kslot}
	th.SchedThread = sched.NewThread(child.PID<<16|tid, th, func() { childBody(th) })

	child.mu.Lock()
	child.Threads = append(child.Threads, th)
	child.mu.Unlock()

	registerProcess(child)
	sched.AddTask(th.SchedThread)
	log.Debug().Int("parent", p.PID).Int("child", child.PID).Msg("forked process")
	return child
}

// Exit marks the process a zombie, releases every thread's user
// resources, reparents its children to init, and recycles its address
// space's data pages. The PCB itself is retained in the PID map until
// Waitpid reaps it (spec.md §4.12).
func (p *Process) Exit(code int) {
	p.mu.Lock()
	p.ExitCode = code
	p.Zombie = true
	threads := p.Threads
	children := p.Children
	p.mu.Unlock()

	for _, th := range threads {
		p.AS.RemoveTrapContext(th.TID)
		p.AS.RemoveUserStack(p.UstackBase, th.TID)
		kernelAS.RemoveKernelStack(th.KStackSlot)
		kstackAlloc.Dealloc(th.KStackSlot)
		p.tidAlloc.Dealloc(th.TID)
	}
	p.AS.RecycleDataPages()

	initProc, haveInit := Lookup(1)
	for _, c := range children {
		c.mu.Lock()
		c.Parent = nil
		if haveInit && initProc != p {
			c.Parent = initProc
		}
		c.mu.Unlock()
		if haveInit && initProc != p {
			initProc.mu.Lock()
			initProc.Children = append(initProc.Children, c)
			initProc.mu.Unlock()
		}
	}
	log.Debug().Int("pid", p.PID).Int("code", code).Msg("process exited")
}

// Waitpid implements spec.md §4.12's three-way result: -1 if pid is
// not (and never was) a child of p, -2 if it is a live non-zombie
// child, else the zombie's exit code and PID after removing it from
// p's children and freeing its PID for reuse.
func (p *Process) Waitpid(pid int) (gotPID int, exitCode int, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	found := -1
	for i, c := range p.Children {
		if pid == -1 || c.PID == pid {
			found = i
			if c.isZombie() {
				break
			}
		}
	}
	if found == -1 {
		return 0, 0, -1
	}
	c := p.Children[found]
	if !c.isZombie() {
		return 0, 0, -2
	}
	p.Children = append(p.Children[:found], p.Children[found+1:]...)

	pidMapMu.Lock()
	delete(pidMap, c.PID)
	pidMapMu.Unlock()
	pidAlloc.Dealloc(c.PID)

	return c.PID, c.ExitCode, 0
}

func (p *Process) isZombie() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Zombie
}
