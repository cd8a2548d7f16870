// Package vm implements the SV39-style three-level page table and the
// address-space builder (spec.md §4.2, §4.3), grounded on the
// teacher's vm/as.go (the Vm_t locking idiom, Userdmap8-style
// cross-address-space translation) and mem/mem.go (the Pa_t/PTE flag
// idiom), retargeted from biscuit's x86-64 four-level tables to SV39's
// three 9-bit levels.
package vm

import (
	"fmt"

	"github.com/rvos/kernel/internal/mem"
)

// PTEFlags are the per-page-table-entry permission and status bits,
// ported from the teacher's PTE_P/PTE_W/PTE_U bit layout but renamed
// to the SV39 flag set spec.md §3 enumerates.
type PTEFlags uint16

const (
	PTEValid PTEFlags = 1 << 0
	PTER     PTEFlags = 1 << 1
	PTEW     PTEFlags = 1 << 2
	PTEX     PTEFlags = 1 << 3
	PTEU     PTEFlags = 1 << 4
	PTEG     PTEFlags = 1 << 5
	PTEA     PTEFlags = 1 << 6
	PTED     PTEFlags = 1 << 7
)

const ppnMask = (uint64(1) << 44) - 1

// PTE is a single page-table entry: a physical page number plus flags,
// packed the way real SV39 hardware packs them (flags in bits [7:0],
// PPN in bits [53:10]) so the in-memory representation matches what a
// real trampoline would load into satp/PTE fields.
type PTE uint64

// NewPTE packs a PPN and flag set into a PTE.
func NewPTE(ppn mem.PhysPageNum, flags PTEFlags) PTE {
	return PTE(uint64(ppn)<<10 | uint64(flags))
}

// PPN extracts the physical page number.
func (p PTE) PPN() mem.PhysPageNum { return mem.PhysPageNum((uint64(p) >> 10) & ppnMask) }

// Flags extracts the flag bits.
func (p PTE) Flags() PTEFlags { return PTEFlags(p & 0xff) }

// Valid reports whether the PTEValid bit is set.
func (p PTE) Valid() bool { return p.Flags()&PTEValid != 0 }

const satpModeSV39 = 8

// PageTable is a three-level SV39 translation tree. It owns the
// physical frames that back its own nodes (root plus any intermediate
// tables it had to create); those frames are released when the page
// table is dropped, per spec.md §4.2.
type PageTable struct {
	root   mem.PhysPageNum
	alloc  *mem.FrameAllocator
	frames []*mem.FrameTracker
}

// NewPageTable allocates a fresh, empty page table rooted in a new
// frame from alloc.
func NewPageTable(alloc *mem.FrameAllocator) *PageTable {
	f, ok := alloc.Alloc()
	if !ok {
		panic("vm: no frames for new page table")
	}
	return &PageTable{root: f.PPN(), alloc: alloc, frames: []*mem.FrameTracker{f}}
}

// FromToken reconstructs a non-owning view of a page table given a
// token (as produced by Token()), used for the cross-address-space
// byte-buffer translation helpers. The returned PageTable does not own
// any frames and must not be dropped.
func FromToken(token uint64, alloc *mem.FrameAllocator) *PageTable {
	return &PageTable{root: mem.PhysPageNum(token & ppnMask), alloc: alloc}
}

// Token encodes the root PPN plus the SV39 mode tag, suitable for the
// address-translation control register (satp).
func (pt *PageTable) Token() uint64 {
	return uint64(satpModeSV39)<<60 | uint64(pt.root)
}

// findPTE walks the tree for vpn, optionally creating intermediate
// tables (via the frame allocator) when create is true. Returns a
// pointer into the backing page's raw PTE slot.
func (pt *PageTable) findPTE(vpn mem.VirtPageNum, create bool) (*uint64, bool) {
	idx := vpn.Indexes()
	ppn := pt.root
	var slot *uint64
	for level := 0; level < 3; level++ {
		page := pt.alloc.PageAt(ppn)
		ptes := page.PTEs()
		slot = &ptes[idx[level]]
		if level == 2 {
			break
		}
		cur := PTE(*slot)
		if !cur.Valid() {
			if !create {
				return nil, false
			}
			f, ok := pt.alloc.Alloc()
			if !ok {
				panic("vm: no frames for page table node")
			}
			pt.frames = append(pt.frames, f)
			*slot = uint64(NewPTE(f.PPN(), PTEValid))
			cur = PTE(*slot)
		}
		ppn = cur.PPN()
	}
	return slot, true
}

// Map installs vpn -> ppn with the given flags, creating intermediate
// tables as needed. Fails if the leaf is already valid (spec.md §4.2).
func (pt *PageTable) Map(vpn mem.VirtPageNum, ppn mem.PhysPageNum, flags PTEFlags) error {
	slot, _ := pt.findPTE(vpn, true)
	if PTE(*slot).Valid() {
		return fmt.Errorf("vm: vpn %#x already mapped", vpn)
	}
	*slot = uint64(NewPTE(ppn, flags|PTEValid))
	return nil
}

// Unmap clears the leaf entry for vpn. Fails if it was not valid.
func (pt *PageTable) Unmap(vpn mem.VirtPageNum) error {
	slot, ok := pt.findPTE(vpn, false)
	if !ok || !PTE(*slot).Valid() {
		return fmt.Errorf("vm: vpn %#x not mapped", vpn)
	}
	*slot = 0
	return nil
}

// Translate returns a copy of the leaf PTE for vpn without mutating
// the table.
func (pt *PageTable) Translate(vpn mem.VirtPageNum) (PTE, bool) {
	slot, ok := pt.findPTE(vpn, false)
	if !ok {
		return 0, false
	}
	p := PTE(*slot)
	if !p.Valid() {
		return 0, false
	}
	return p, true
}

// Drop releases every frame this page table owns (its root and any
// intermediate tables it created). The caller must not use the table
// afterward.
func (pt *PageTable) Drop() {
	for _, f := range pt.frames {
		f.Drop()
	}
	pt.frames = nil
}

// TranslatedByteBuffer resolves a user-space (ptr, len) region into a
// slice of byte slices, one per physical page it spans, mirroring the
// teacher's translate_byte_buffer / Userdmap8_inner cross-AS read path
// (vm/as.go, vm/userbuf.go).
func TranslatedByteBuffer(token uint64, alloc *mem.FrameAllocator, ptr mem.VirtAddr, length int) [][]byte {
	pt := FromToken(token, alloc)
	var out [][]byte
	start := ptr
	end := ptr + mem.VirtAddr(length)
	for start < end {
		startVPN := start.Floor()
		pte, ok := pt.Translate(startVPN)
		if !ok {
			panic("vm: translate_byte_buffer: unmapped page")
		}
		vpnEndAddr := (startVPN + 1).Addr()
		var sliceEnd mem.VirtAddr
		if vpnEndAddr > end {
			sliceEnd = end
		} else {
			sliceEnd = vpnEndAddr
		}
		page := alloc.PageAt(pte.PPN())
		lo := start.PageOffset()
		hi := lo + uint64(sliceEnd-start)
		out = append(out, page[lo:hi])
		start = sliceEnd
	}
	return out
}
