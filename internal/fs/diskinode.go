package fs

import (
	"github.com/rvos/kernel/internal/blockdev"
	"github.com/rvos/kernel/internal/kutil"
)

// Inode layout constants, per spec.md §3.
const (
	DirectCount    = 28  // direct block pointers in a disk inode
	Indirect1Count = 128 // u32 pointers per indirect block
)

// Indirect2Count is the number of data blocks reachable purely through
// the double-indirect tier.
const Indirect2Count = Indirect1Count * Indirect1Count

// InodeType distinguishes a plain file from a directory.
type InodeType uint32

const (
	TypeFile InodeType = iota
	TypeDir
)

// IndirectBlock is the raw shape of an indirect-1 or indirect-2 block:
// 128 four-byte block-pointer slots.
type IndirectBlock [Indirect1Count]uint32

// DiskInode is the fixed 128-byte on-disk inode record (spec.md §3).
type DiskInode struct {
	Size      uint32
	Direct    [DirectCount]uint32
	Indirect1 uint32
	Indirect2 uint32
	Type      InodeType
}

// DiskInodeSize is the fixed record size in bytes.
const DiskInodeSize = 128

// IsDir / IsFile report the inode's type.
func (d *DiskInode) IsDir() bool  { return d.Type == TypeDir }
func (d *DiskInode) IsFile() bool { return d.Type == TypeFile }

// InitInode sets Type and zeroes the rest of the record.
func (d *DiskInode) InitInode(t InodeType) {
	*d = DiskInode{Type: t}
}

// dataBlocksFor returns ceil(size/512), the number of data blocks a file
// of this size occupies, per spec.md §4.6.
func dataBlocksFor(size uint32) uint32 {
	return kutil.CeilDiv(size, uint32(blockdev.BlockSize))
}

// DataBlocks returns the number of data blocks currently needed to
// hold Size bytes.
func (d *DiskInode) DataBlocks() uint32 {
	return dataBlocksFor(d.Size)
}

// TotalBlocks returns the number of blocks needed to hold size bytes
// including indirect index blocks, per spec.md §4.6's numeric
// semantics, ported from original_source's Inode::total_blocks.
func TotalBlocks(size uint32) uint32 {
	dataBlocks := dataBlocksFor(size)
	total := dataBlocks
	if dataBlocks > DirectCount {
		total++ // indirect1 block itself
	}
	if dataBlocks > DirectCount+Indirect1Count {
		total++ // indirect2 block itself
		total += kutil.CeilDiv(dataBlocks-DirectCount-Indirect1Count, uint32(Indirect1Count))
	}
	return total
}

// BlocksNeeded returns how many additional blocks must be allocated to
// grow this inode from its current size to newSize.
func (d *DiskInode) BlocksNeeded(newSize uint32) uint32 {
	return TotalBlocks(newSize) - TotalBlocks(d.Size)
}
