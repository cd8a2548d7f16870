package vm

import (
	"bytes"
	"debug/elf"

	"github.com/pkg/errors"
	"github.com/rvos/kernel/internal/mem"
)

// FromELF parses an ELF image and builds an address space from its
// loadable segments, per spec.md §4.3's from_elf. It returns the
// address space, the VPN at which the per-thread user stack region
// should begin (above the highest segment, separated by a guard
// page), and the entry point.
//
// No example repo in the pack ships an ELF-parsing library, and
// hand-rolling the ELF format would just re-implement what the
// standard library already parses correctly; debug/elf is used here
// as the narrow exception the DESIGN.md ledger documents.
func FromELF(data []byte, alloc *mem.FrameAllocator) (as *AddressSpace, ustackBaseVPN mem.VirtPageNum, entry mem.VirtAddr, err error) {
	f, perr := elf.NewFile(bytes.NewReader(data))
	if perr != nil {
		return nil, 0, 0, errors.Wrap(perr, "vm: parse elf")
	}
	as = NewAddressSpace(alloc)
	var maxEndVPN mem.VirtPageNum
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		perm := PTEU
		if prog.Flags&elf.PF_R != 0 {
			perm |= PTER
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= PTEW
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= PTEX
		}
		lo := mem.VirtAddr(prog.Vaddr).Floor()
		hi := mem.VirtAddr(prog.Vaddr + prog.Memsz).Ceil()
		region := as.InsertFramedArea(lo, hi, perm)

		segData := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			if _, rerr := prog.ReadAt(segData, 0); rerr != nil {
				return nil, 0, 0, errors.Wrap(rerr, "vm: read elf segment")
			}
			writeRegion(region, mem.VirtAddr(prog.Vaddr), segData)
		}
		if hi > maxEndVPN {
			maxEndVPN = hi
		}
	}
	// Guard page between the highest segment and the user stack.
	ustackBaseVPN = maxEndVPN + 1
	entry = mem.VirtAddr(f.Entry)
	return as, ustackBaseVPN, entry, nil
}

// writeRegion copies data into a framed region's backing frames
// starting at virtual address base, spanning as many pages as needed.
func writeRegion(r *Region, base mem.VirtAddr, data []byte) {
	for i := 0; i < len(data); {
		va := base + mem.VirtAddr(i)
		vpn := va.Floor()
		off := va.PageOffset()
		n := mem.PageSize - int(off)
		if rem := len(data) - i; n > rem {
			n = rem
		}
		ft, ok := r.frames[vpn]
		if !ok {
			panic("vm: elf segment byte falls outside its mapped region")
		}
		buf := ft.Bytes()
		copy(buf[off:], data[i:i+n])
		i += n
	}
}
