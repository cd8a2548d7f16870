// Package ustr implements the fixed-width, NUL-padded name type used by
// directory entries (spec.md §3), ported from the teacher's ustr
// package (originally a general path string) and narrowed to the
// 27-byte directory-entry name slot.
package ustr

// NameMax is the maximum length of a directory entry name, leaving one
// byte for the dir entry's trailing pad (spec.md §3: 27-byte name + 4
// byte inode number + 1 byte padding = 32 bytes).
const NameMax = 27

// Ustr is an immutable name used by directory entries and path lookups.
type Ustr []uint8

// Isdot reports whether the name equals ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the name equals "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq compares two names for byte equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstr creates an empty name.
func MkUstr() Ustr {
	return Ustr{}
}

// FromString converts a Go string into a Ustr, rejecting names that do
// not fit in a directory entry slot.
func FromString(s string) (Ustr, bool) {
	if len(s) == 0 || len(s) > NameMax {
		return nil, false
	}
	return Ustr(s), true
}

// FromSlice truncates buf at the first NUL byte, mirroring the
// teacher's MkUstrSlice used to decode on-disk fixed-width names.
func FromSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return Ustr(append([]uint8{}, buf[:i]...))
		}
	}
	return Ustr(append([]uint8{}, buf...))
}

// Pad returns the name encoded into a NameMax+1-byte NUL-padded slot,
// as stored on disk by a directory entry.
func (us Ustr) Pad() [NameMax + 1]uint8 {
	var b [NameMax + 1]uint8
	copy(b[:], us)
	return b
}

// String converts the name to a Go string.
func (us Ustr) String() string {
	return string(us)
}
