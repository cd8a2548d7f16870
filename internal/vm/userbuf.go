package vm

import (
	"github.com/rvos/kernel/internal/mem"
)

// UserBuffer assists reading and writing user memory across a page
// boundary, ported from the teacher's Userbuf_t (vm/userbuf.go),
// generalized from biscuit's fault-driven remap loop to a direct
// frame-buffer walk since this address space owns its frames
// directly rather than lazily faulting them in.
type UserBuffer struct {
	token mem.VirtAddr
	base  mem.VirtAddr
	len   int
	off   int
	alloc *mem.FrameAllocator
	tok   uint64
}

// NewUserBuffer builds a buffer over [uva, uva+length) in the address
// space identified by token.
func NewUserBuffer(token uint64, alloc *mem.FrameAllocator, uva mem.VirtAddr, length int) *UserBuffer {
	return &UserBuffer{tok: token, base: uva, len: length, alloc: alloc}
}

// Remain returns the number of unread/unwritten bytes left.
func (ub *UserBuffer) Remain() int { return ub.len - ub.off }

// Read copies from user memory into dst, restarting from ub.off on
// repeated calls, and returns the number of bytes copied.
func (ub *UserBuffer) Read(dst []byte) int {
	return ub.tx(dst, false)
}

// Write copies from src into user memory.
func (ub *UserBuffer) Write(src []byte) int {
	return ub.tx(src, true)
}

func (ub *UserBuffer) tx(buf []byte, write bool) int {
	total := 0
	for len(buf) > 0 && ub.off < ub.len {
		va := ub.base + mem.VirtAddr(ub.off)
		pt := FromToken(ub.tok, ub.alloc)
		vpn := va.Floor()
		pte, ok := pt.Translate(vpn)
		if !ok {
			break
		}
		page := ub.alloc.PageAt(pte.PPN())
		pageBuf := page[va.PageOffset():]
		n := len(pageBuf)
		if n > len(buf) {
			n = len(buf)
		}
		if left := ub.len - ub.off; n > left {
			n = left
		}
		if write {
			copy(pageBuf[:n], buf)
		} else {
			copy(buf, pageBuf[:n])
		}
		buf = buf[n:]
		ub.off += n
		total += n
	}
	return total
}

// TranslatedStr resolves a NUL-terminated user string starting at va,
// mirroring the teacher's translated_str helper.
func TranslatedStr(token uint64, alloc *mem.FrameAllocator, va mem.VirtAddr) string {
	pt := FromToken(token, alloc)
	var out []byte
	cur := va
	for {
		vpn := cur.Floor()
		pte, ok := pt.Translate(vpn)
		if !ok {
			break
		}
		page := ub_page(alloc, pte.PPN())
		off := cur.PageOffset()
		for ; off < mem.PageSize; off++ {
			b := page[off]
			if b == 0 {
				return string(out)
			}
			out = append(out, b)
			cur++
		}
	}
	return string(out)
}

func ub_page(alloc *mem.FrameAllocator, ppn mem.PhysPageNum) *mem.Page {
	return alloc.PageAt(ppn)
}
