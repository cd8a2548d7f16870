package fs

import "github.com/rvos/kernel/internal/ustr"

// DirEntrySize is the fixed 32-byte on-disk directory entry: a name of
// up to 27 bytes NUL-padded into a 28-byte slot, then a 4-byte inode
// number, per spec.md §3.
const DirEntrySize = ustr.NameMax + 1 + 4

// DirEntry is the decoded form of one directory entry.
type DirEntry struct {
	Name  ustr.Ustr
	Inode uint32
}

// Encode packs the entry into its 32-byte on-disk form.
func (e DirEntry) Encode() [DirEntrySize]byte {
	var buf [DirEntrySize]byte
	pad := e.Name.Pad()
	copy(buf[:ustr.NameMax+1], pad[:])
	buf[ustr.NameMax+1] = byte(e.Inode)
	buf[ustr.NameMax+2] = byte(e.Inode >> 8)
	buf[ustr.NameMax+3] = byte(e.Inode >> 16)
	buf[ustr.NameMax+4] = byte(e.Inode >> 24)
	return buf
}

// DecodeDirEntry unpacks a 32-byte on-disk directory entry.
func DecodeDirEntry(buf [DirEntrySize]byte) DirEntry {
	name := ustr.FromSlice(buf[:ustr.NameMax+1])
	inode := uint32(buf[ustr.NameMax+1]) |
		uint32(buf[ustr.NameMax+2])<<8 |
		uint32(buf[ustr.NameMax+3])<<16 |
		uint32(buf[ustr.NameMax+4])<<24
	return DirEntry{Name: name, Inode: inode}
}

// Empty reports whether this looks like a never-written slot (empty
// name), used by Ls to skip holes.
func (e DirEntry) Empty() bool { return len(e.Name) == 0 }
