package task

import (
	"unsafe"

	"github.com/rvos/kernel/internal/mem"
)

// TrapContext is the register snapshot saved on entry to the kernel
// from user mode (spec.md GLOSSARY), written into the thread's
// trap-context page by spawnThread/Exec (and updated by Fork) per spec.md §4.12's
// app_init_context. X holds the 32 general-purpose registers; X[10]
// and X[11] are a0/a1 (syscall args / return value, argc/argv).
type TrapContext struct {
	X           [32]uint64
	Sepc        uint64
	KernelSatp  uint64
	KernelSP    uint64
	TrapHandler uint64
}

// AppInitContext builds the initial trap context for a thread about to
// start running user code at entry with stack pointer sp.
func AppInitContext(entry, sp mem.VirtAddr, kernelSatp uint64, kernelSP mem.VirtAddr, trapHandler mem.VirtAddr) TrapContext {
	var tc TrapContext
	tc.X[2] = uint64(sp) // sp
	tc.Sepc = uint64(entry)
	tc.KernelSatp = kernelSatp
	tc.KernelSP = uint64(kernelSP)
	tc.TrapHandler = uint64(trapHandler)
	return tc
}

func trapContextPtr(page *mem.Page) *TrapContext {
	return (*TrapContext)(unsafe.Pointer(&page[0]))
}
