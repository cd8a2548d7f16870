package vm

import (
	"fmt"
	"sync"

	"github.com/rvos/kernel/internal/klog"
	"github.com/rvos/kernel/internal/mem"
)

var log = klog.Get("vm")

// MapType distinguishes a region's backing strategy, mirroring
// spec.md §3's {Identity, Framed} split.
type MapType int

const (
	Identity MapType = iota
	Framed
)

// Region is a half-open virtual-page range with a mapping kind and
// permission set. Framed regions own their backing frames; identity
// regions do not, grounded on the teacher's Vmregion_t/Vminfo_t split
// in vm/as.go generalized to SV39.
type Region struct {
	Lo, Hi mem.VirtPageNum // [Lo, Hi)
	Map    MapType
	Perm   PTEFlags
	frames map[mem.VirtPageNum]*mem.FrameTracker // nil for Identity
}

func newRegion(lo, hi mem.VirtPageNum, kind MapType, perm PTEFlags) *Region {
	r := &Region{Lo: lo, Hi: hi, Map: kind, Perm: perm}
	if kind == Framed {
		r.frames = make(map[mem.VirtPageNum]*mem.FrameTracker)
	}
	return r
}

func (r *Region) mapOne(pt *PageTable, alloc *mem.FrameAllocator, vpn mem.VirtPageNum) {
	switch r.Map {
	case Identity:
		if err := pt.Map(vpn, mem.PhysPageNum(vpn), r.Perm); err != nil {
			panic(err)
		}
	case Framed:
		f, ok := alloc.Alloc()
		if !ok {
			panic("vm: out of frames mapping region")
		}
		if err := pt.Map(vpn, f.PPN(), r.Perm); err != nil {
			panic(err)
		}
		r.frames[vpn] = f
	}
}

func (r *Region) unmapOne(pt *PageTable, vpn mem.VirtPageNum) {
	if err := pt.Unmap(vpn); err != nil {
		panic(err)
	}
	if r.Map == Framed {
		if f, ok := r.frames[vpn]; ok {
			f.Drop()
			delete(r.frames, vpn)
		}
	}
}

func (r *Region) mapAll(pt *PageTable, alloc *mem.FrameAllocator) {
	for vpn := r.Lo; vpn < r.Hi; vpn++ {
		r.mapOne(pt, alloc, vpn)
	}
}

func (r *Region) unmapAll(pt *PageTable) {
	for vpn := r.Lo; vpn < r.Hi; vpn++ {
		r.unmapOne(pt, vpn)
	}
}

// AddressSpace is an ordered collection of mapped regions plus the
// backing page table (spec.md §4.3), grounded on the teacher's Vm_t.
type AddressSpace struct {
	sync.Mutex
	PT     *PageTable
	Areas  []*Region
	alloc  *mem.FrameAllocator
}

// NewAddressSpace allocates a bare address space with no regions.
func NewAddressSpace(alloc *mem.FrameAllocator) *AddressSpace {
	return &AddressSpace{PT: NewPageTable(alloc), alloc: alloc}
}

// InsertFramedArea adds a privately-backed region over [lo, hi) with
// the given permissions and maps it immediately.
func (as *AddressSpace) InsertFramedArea(lo, hi mem.VirtPageNum, perm PTEFlags) *Region {
	r := newRegion(lo, hi, Framed, perm)
	r.mapAll(as.PT, as.alloc)
	as.Areas = append(as.Areas, r)
	return r
}

// InsertIdentityArea adds an identity-mapped region over [lo, hi).
func (as *AddressSpace) InsertIdentityArea(lo, hi mem.VirtPageNum, perm PTEFlags) *Region {
	r := newRegion(lo, hi, Identity, perm)
	r.mapAll(as.PT, as.alloc)
	as.Areas = append(as.Areas, r)
	return r
}

// RemoveAreaWithStartVPN drops the region beginning at vpn, unmapping
// and (for framed regions) freeing its backing frames.
func (as *AddressSpace) RemoveAreaWithStartVPN(vpn mem.VirtPageNum) bool {
	for i, r := range as.Areas {
		if r.Lo == vpn {
			r.unmapAll(as.PT)
			as.Areas = append(as.Areas[:i], as.Areas[i+1:]...)
			return true
		}
	}
	return false
}

// RecycleDataPages drops all framed regions; the page table itself,
// any identity regions and the trampoline mapping remain mapped until
// the address space itself is dropped, per spec.md §4.3.
func (as *AddressSpace) RecycleDataPages() {
	kept := as.Areas[:0]
	for _, r := range as.Areas {
		if r.Map == Framed {
			r.unmapAll(as.PT)
		} else {
			kept = append(kept, r)
		}
	}
	as.Areas = kept
}

// Drop releases the page table's own frames. Call only after
// RecycleDataPages (or equivalent) has released every framed region;
// otherwise those frames leak since nothing walks as.Areas here.
func (as *AddressSpace) Drop() {
	as.PT.Drop()
}

// Token returns the address-translation token for this address space.
func (as *AddressSpace) Token() uint64 { return as.PT.Token() }

// Activate would write the token to the hart's satp register and
// fence the TLB on real hardware; hosted, it is a no-op beyond
// returning the token a caller can record as "current".
func (as *AddressSpace) Activate() uint64 {
	return as.Token()
}

// Translate exposes the page table's translate for read-only callers.
func (as *AddressSpace) Translate(vpn mem.VirtPageNum) (PTE, bool) {
	return as.PT.Translate(vpn)
}

// FramePage returns the backing page for vpn within a framed region,
// used by callers (trap context setup, user-stack argv push) that need
// direct byte access to kernel-resident pages mapped into a user AS.
func (as *AddressSpace) FramePage(vpn mem.VirtPageNum) (*mem.Page, bool) {
	r, ok := as.Lookup(vpn)
	if !ok || r.Map != Framed {
		return nil, false
	}
	f, ok := r.frames[vpn]
	if !ok {
		return nil, false
	}
	return f.Bytes(), true
}

// Lookup returns the region (if any) covering vpn, mirroring the
// teacher's Vmregion_t.Lookup used by the page-fault path.
func (as *AddressSpace) Lookup(vpn mem.VirtPageNum) (*Region, bool) {
	for _, r := range as.Areas {
		if vpn >= r.Lo && vpn < r.Hi {
			return r, true
		}
	}
	return nil, false
}

// --- Trampoline / trap-context / kernel-stack placement (spec.md §4.3, §4.8, §4.9) ---

const (
	// Trampoline is the fixed VPN shared by every address space so
	// control can cross the privilege/AS boundary without faulting.
	Trampoline mem.VirtPageNum = (1 << mem.VPNBits) - 1

	// TrapContextBase is the VPN of thread 0's trap-context page, one
	// page below the trampoline; thread t's page sits t slots lower.
	TrapContextBase = Trampoline - 1

	// UserStackPages / KernelStackPages are the per-thread stack
	// sizes, in pages, used by the user-resource and kernel-stack
	// placement formulas below.
	UserStackPages   mem.VirtPageNum = 2
	KernelStackPages mem.VirtPageNum = 2
)

// MapTrampoline installs the shared trampoline code page at the fixed
// top-of-VA slot, mapping that VPN straight to trampolinePPN in the
// page table (not as a region in Areas) without PTEU so user mode
// cannot address it directly.
func (as *AddressSpace) MapTrampoline(trampolinePPN mem.PhysPageNum) {
	if err := as.PT.Map(Trampoline, trampolinePPN, PTER|PTEX); err != nil {
		panic(err)
	}
}

// TrapContextVPN returns the VPN of the trap-context page for thread
// tid, one page per thread stepping down from TrapContextBase.
func TrapContextVPN(tid int) mem.VirtPageNum {
	return TrapContextBase - mem.VirtPageNum(tid)
}

// InsertTrapContext maps a fresh, kernel-only R/W page at thread tid's
// trap-context slot.
func (as *AddressSpace) InsertTrapContext(tid int) *Region {
	vpn := TrapContextVPN(tid)
	return as.InsertFramedArea(vpn, vpn+1, PTER|PTEW)
}

// RemoveTrapContext drops thread tid's trap-context mapping.
func (as *AddressSpace) RemoveTrapContext(tid int) {
	as.RemoveAreaWithStartVPN(TrapContextVPN(tid))
}

// UserStackVPNRange returns the [lo, hi) VPN range for thread tid's
// user stack, placed above ustackBase with one guard page between
// consecutive threads' stacks, per spec.md §4.9.
func UserStackVPNRange(ustackBase mem.VirtPageNum, tid int) (lo, hi mem.VirtPageNum) {
	stride := UserStackPages + 1 // +1 guard page
	lo = ustackBase + mem.VirtPageNum(tid)*stride
	hi = lo + UserStackPages
	return
}

// InsertUserStack maps thread tid's user stack region.
func (as *AddressSpace) InsertUserStack(ustackBase mem.VirtPageNum, tid int) *Region {
	lo, hi := UserStackVPNRange(ustackBase, tid)
	return as.InsertFramedArea(lo, hi, PTER|PTEW|PTEU)
}

// RemoveUserStack drops thread tid's user stack region.
func (as *AddressSpace) RemoveUserStack(ustackBase mem.VirtPageNum, tid int) {
	lo, _ := UserStackVPNRange(ustackBase, tid)
	as.RemoveAreaWithStartVPN(lo)
}

// KernelStackVPNRange returns the [lo, hi) VPN range for kernel-stack
// slot k, placed just below the trampoline with a guard page between
// slots, per spec.md §4.8.
func KernelStackVPNRange(slot int) (lo, hi mem.VirtPageNum) {
	stride := KernelStackPages + 1
	hi = Trampoline - mem.VirtPageNum(slot)*stride
	lo = hi - KernelStackPages
	return
}

// InsertKernelStack maps kernel-stack slot k into the kernel address
// space.
func (as *AddressSpace) InsertKernelStack(slot int) *Region {
	lo, hi := KernelStackVPNRange(slot)
	return as.InsertFramedArea(lo, hi, PTER|PTEW)
}

// RemoveKernelStack drops kernel-stack slot k's mapping.
func (as *AddressSpace) RemoveKernelStack(slot int) {
	lo, _ := KernelStackVPNRange(slot)
	as.RemoveAreaWithStartVPN(lo)
}

// --- fork-style copy (spec.md §4.3 from_existed_user) ---

// FromExistedUser builds a fresh address space with the same region
// set as parent, copying framed-region frame contents byte-for-byte.
// This is a plain copy, not copy-on-write (explicit spec.md Non-goal).
func FromExistedUser(parent *AddressSpace, alloc *mem.FrameAllocator) *AddressSpace {
	child := NewAddressSpace(alloc)
	for _, r := range parent.Areas {
		switch r.Map {
		case Identity:
			child.InsertIdentityArea(r.Lo, r.Hi, r.Perm)
		case Framed:
			nr := child.InsertFramedArea(r.Lo, r.Hi, r.Perm)
			for vpn := r.Lo; vpn < r.Hi; vpn++ {
				src := r.frames[vpn].Bytes()
				dst := nr.frames[vpn].Bytes()
				*dst = *src
			}
		}
	}
	return child
}

// NewKernelAddressSpace identity-maps the kernel's code/data range and
// the frame allocator's backing physical range, then maps the
// trampoline at the top of virtual memory, grounded on the teacher's
// Mkas_new_kernel-equivalent bootstrap.
func NewKernelAddressSpace(alloc *mem.FrameAllocator, codeStart, codeEnd mem.PhysPageNum, trampolinePPN mem.PhysPageNum) *AddressSpace {
	as := NewAddressSpace(alloc)
	as.InsertIdentityArea(mem.VirtPageNum(codeStart), mem.VirtPageNum(codeEnd), PTER|PTEW|PTEX)
	as.MapTrampoline(trampolinePPN)
	log.Debug().Uint64("code_lo", uint64(codeStart)).Uint64("code_hi", uint64(codeEnd)).Msg("kernel address space built")
	return as
}

func (as *AddressSpace) String() string {
	return fmt.Sprintf("AddressSpace{token=%#x areas=%d}", as.Token(), len(as.Areas))
}
