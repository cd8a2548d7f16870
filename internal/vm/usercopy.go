package vm

import (
	"github.com/pkg/errors"

	"github.com/rvos/kernel/internal/mem"
)

// ErrBadAddr is returned when a user-space copy touches a virtual
// address with no resident framed page, the Go-hosted analogue of a
// page fault on a user pointer.
var ErrBadAddr = errors.New("vm: user address not mapped")

// CopyOut copies data into the address space at va, crossing page
// boundaries as needed. Grounded on the teacher's Vm_t.Uiowrite /
// Userwriten page-walking idiom (biscuit/src/vm/as.go).
func (as *AddressSpace) CopyOut(va mem.VirtAddr, data []byte) error {
	for i := 0; i < len(data); {
		vpn := (va + mem.VirtAddr(i)).Floor()
		off := (va + mem.VirtAddr(i)).PageOffset()
		page, ok := as.FramePage(vpn)
		if !ok {
			return ErrBadAddr
		}
		n := mem.PageSize - int(off)
		if rem := len(data) - i; n > rem {
			n = rem
		}
		copy(page[off:], data[i:i+n])
		i += n
	}
	return nil
}

// CopyIn reads len(buf) bytes from va into buf, crossing page
// boundaries as needed. Grounded on the teacher's Userdmap8_inner /
// Userreadn idiom.
func (as *AddressSpace) CopyIn(va mem.VirtAddr, buf []byte) error {
	for i := 0; i < len(buf); {
		vpn := (va + mem.VirtAddr(i)).Floor()
		off := (va + mem.VirtAddr(i)).PageOffset()
		page, ok := as.FramePage(vpn)
		if !ok {
			return ErrBadAddr
		}
		n := mem.PageSize - int(off)
		if rem := len(buf) - i; n > rem {
			n = rem
		}
		copy(buf[i:i+n], page[off:])
		i += n
	}
	return nil
}

// CopyInStr reads a NUL-terminated string from va, up to lenmax bytes,
// grounded on the teacher's Vm_t.Userstr.
func (as *AddressSpace) CopyInStr(va mem.VirtAddr, lenmax int) (string, error) {
	buf := make([]byte, 0, 64)
	for i := 0; i < lenmax; i++ {
		vpn := (va + mem.VirtAddr(i)).Floor()
		off := (va + mem.VirtAddr(i)).PageOffset()
		page, ok := as.FramePage(vpn)
		if !ok {
			return "", ErrBadAddr
		}
		c := page[off]
		if c == 0 {
			return string(buf), nil
		}
		buf = append(buf, c)
	}
	return "", errors.New("vm: user string exceeds lenmax")
}
