// Package mem implements the physical/virtual addressing types and the
// frame allocator (spec.md §3, §4.1), grounded on the teacher's mem
// package (Pa_t as the physical-address newtype, Pg_t as a raw page,
// the allocator's cursor+recycled-stack idiom) but retargeted from
// biscuit's x86-64 direct map to an SV39 RISC-V-class layout with a
// host-simulated physical RAM arena, since this kernel runs hosted
// rather than on bare metal.
package mem

import (
	"fmt"
	"unsafe"

	"github.com/rvos/kernel/internal/klog"
)

var log = klog.Get("mem")

const (
	// PageSizeBits is the base-2 exponent of the page size.
	PageSizeBits = 12
	// PageSize is the size of a page in bytes (4 KiB).
	PageSize = 1 << PageSizeBits
	// PAddrBits / PPNBits are SV39's physical address/page-number widths.
	PAddrBits = 56
	PPNBits   = PAddrBits - PageSizeBits
	// VAddrBits / VPNBits are SV39's virtual address/page-number widths.
	VAddrBits = 39
	VPNBits   = VAddrBits - PageSizeBits
)

// PhysAddr is a physical byte address.
type PhysAddr uint64

// VirtAddr is a virtual byte address.
type VirtAddr uint64

// PhysPageNum is a physical page number.
type PhysPageNum uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

func (p PhysAddr) Floor() PhysPageNum  { return PhysPageNum(p / PageSize) }
func (p PhysAddr) Ceil() PhysPageNum   { return PhysPageNum((uint64(p) + PageSize - 1) / PageSize) }
func (p PhysAddr) PageOffset() uint64  { return uint64(p) & (PageSize - 1) }
func (p PhysPageNum) Addr() PhysAddr   { return PhysAddr(uint64(p) << PageSizeBits) }

func (v VirtAddr) Floor() VirtPageNum { return VirtPageNum(v / PageSize) }
func (v VirtAddr) Ceil() VirtPageNum  { return VirtPageNum((uint64(v) + PageSize - 1) / PageSize) }
func (v VirtAddr) PageOffset() uint64 { return uint64(v) & (PageSize - 1) }
func (v VirtPageNum) Addr() VirtAddr  { return VirtAddr(uint64(v) << PageSizeBits) }

// Indexes splits a VPN into its three SV39 9-bit level indices,
// most-significant first, mirroring the teacher's pgbits helper.
func (v VirtPageNum) Indexes() [3]uint64 {
	var idx [3]uint64
	vv := uint64(v)
	for i := 2; i >= 0; i-- {
		idx[i] = vv & 0x1ff
		vv >>= 9
	}
	return idx
}

// Page is a page-sized, zero-initialized byte buffer, the in-memory
// counterpart to the teacher's Bytepg_t.
type Page [PageSize]byte

// FrameAllocator hands out and reclaims physical page frames over
// [start, end). Ported from the teacher's cursor+recycled-stack
// allocator idiom (mem.Physmem_t), generalized into a singleton usable
// by both the kernel and user address spaces.
type FrameAllocator struct {
	start     PhysPageNum
	end       PhysPageNum
	current   PhysPageNum
	recycled  []PhysPageNum
	allocated map[PhysPageNum]bool // debug bookkeeping: which frames are live
	ram       map[PhysPageNum]*Page
}

// NewFrameAllocator constructs an allocator over the page range
// [start, end).
func NewFrameAllocator(start, end PhysPageNum) *FrameAllocator {
	if end < start {
		panic("mem: bad frame range")
	}
	return &FrameAllocator{
		start:     start,
		end:       end,
		current:   start,
		allocated: make(map[PhysPageNum]bool),
		ram:       make(map[PhysPageNum]*Page),
	}
}

// FrameTracker owns exactly one physical frame; dropping it via Drop
// returns the frame to the allocator, matching spec.md §4.1's
// "ownership is represented by a handle whose destruction calls
// dealloc" rule.
type FrameTracker struct {
	alloc *FrameAllocator
	ppn   PhysPageNum
	freed bool
}

// PPN returns the frame's physical page number.
func (f *FrameTracker) PPN() PhysPageNum { return f.ppn }

// Bytes returns the zero-cleared backing page for this frame.
func (f *FrameTracker) Bytes() *Page {
	if f.freed {
		panic("mem: use of freed frame")
	}
	return f.alloc.page(f.ppn)
}

// Drop releases the frame back to the allocator. Safe to call at most
// once; a second call panics, mirroring the debug check in dealloc.
func (f *FrameTracker) Drop() {
	if f.freed {
		panic("mem: double free of frame")
	}
	f.freed = true
	f.alloc.dealloc(f.ppn)
}

func (a *FrameAllocator) page(ppn PhysPageNum) *Page {
	p, ok := a.ram[ppn]
	if !ok {
		p = &Page{}
		a.ram[ppn] = p
	}
	return p
}

// PageAt returns the backing page for an arbitrary PPN, used by the vm
// package to walk and mutate page-table nodes (which are themselves
// stored in allocated frames) and to resolve translated user buffers.
func (a *FrameAllocator) PageAt(ppn PhysPageNum) *Page {
	return a.page(ppn)
}

// PTEs reinterprets a page as 512 little-endian 8-byte page-table
// entry slots, mirroring the teacher's pg2pmap unsafe-cast idiom
// (mem/dmap.go) used to view a raw page as a typed table.
func (p *Page) PTEs() *[512]uint64 {
	return (*[512]uint64)(unsafe.Pointer(p))
}

// Alloc hands out one frame, zero-filled, preferring a recycled frame
// over advancing the cursor, ported from the teacher's alloc().
func (a *FrameAllocator) Alloc() (*FrameTracker, bool) {
	var ppn PhysPageNum
	if n := len(a.recycled); n > 0 {
		ppn = a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
	} else {
		if a.current == a.end {
			log.Warn().Msg("frame allocator exhausted")
			return nil, false
		}
		ppn = a.current
		a.current++
	}
	a.allocated[ppn] = true
	*a.page(ppn) = Page{}
	return &FrameTracker{alloc: a, ppn: ppn}, true
}

// dealloc pushes the frame onto the recycled stack. Debug-checks that
// the frame was previously handed out and is not already recycled,
// matching spec.md §4.1.
func (a *FrameAllocator) dealloc(ppn PhysPageNum) {
	if !a.allocated[ppn] {
		panic(fmt.Sprintf("mem: dealloc of frame %d never allocated", ppn))
	}
	for _, r := range a.recycled {
		if r == ppn {
			panic(fmt.Sprintf("mem: double dealloc of frame %d", ppn))
		}
	}
	delete(a.allocated, ppn)
	a.recycled = append(a.recycled, ppn)
}

// Stats reports in-use/free/recycled counts for diagnostics.
func (a *FrameAllocator) Stats() (inUse, free, recycled int) {
	inUse = len(a.allocated)
	recycled = len(a.recycled)
	free = int(a.end-a.current) + recycled
	return
}
