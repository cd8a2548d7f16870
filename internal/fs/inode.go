package fs

import (
	"github.com/rvos/kernel/internal/blockdev"
	"github.com/rvos/kernel/internal/fs/blockcache"
	"github.com/rvos/kernel/internal/ustr"
)

// Inode is the in-memory handle to one on-disk inode record, ported
// from original_source/easy-fs/src/vfs.rs. Every exported operation
// except Size and IsDir, which read the on-disk record without it,
// takes the filesystem's single lock for its full duration: at most
// one creator can be in flight for a given directory at a time, per
// spec.md §4.6. Lowercase *Locked helpers assume the caller already
// holds ino.fs.mu, so higher-level operations (Create) can compose
// them without re-entering the lock.
type Inode struct {
	fs      *EasyFileSystem
	blockID int
	offset  int
}

func (ino *Inode) readDisk(f func(*DiskInode)) {
	s := ino.fs.Cache.Get(ino.blockID)
	blockcache.Read(s, ino.offset, f)
	ino.fs.Cache.Release(s)
}

func (ino *Inode) modifyDisk(f func(*DiskInode)) {
	s := ino.fs.Cache.Get(ino.blockID)
	blockcache.Modify(s, ino.offset, f)
	ino.fs.Cache.Release(s)
}

// Size returns the inode's current byte size.
func (ino *Inode) Size() uint32 {
	var n uint32
	ino.readDisk(func(d *DiskInode) { n = d.Size })
	return n
}

// IsDir reports whether this inode is a directory.
func (ino *Inode) IsDir() bool {
	var isDir bool
	ino.readDisk(func(d *DiskInode) { isDir = d.IsDir() })
	return isDir
}

// dataBlockID resolves the inner'th data block of d, walking direct,
// indirect-1, and indirect-2 tiers as needed.
func (ino *Inode) dataBlockID(d *DiskInode, inner uint32) uint32 {
	switch {
	case inner < DirectCount:
		return d.Direct[inner]
	case inner < DirectCount+Indirect1Count:
		var id uint32
		s := ino.fs.Cache.Get(int(d.Indirect1))
		blockcache.Read(s, 0, func(blk *IndirectBlock) { id = blk[inner-DirectCount] })
		ino.fs.Cache.Release(s)
		return id
	default:
		inner -= DirectCount + Indirect1Count
		outer := inner / Indirect1Count
		within := inner % Indirect1Count
		var indirect1 uint32
		s := ino.fs.Cache.Get(int(d.Indirect2))
		blockcache.Read(s, 0, func(blk *IndirectBlock) { indirect1 = blk[outer] })
		ino.fs.Cache.Release(s)

		var id uint32
		s2 := ino.fs.Cache.Get(int(indirect1))
		blockcache.Read(s2, 0, func(blk *IndirectBlock) { id = blk[within] })
		ino.fs.Cache.Release(s2)
		return id
	}
}

// ReadAt copies min(len(buf), size-offset) bytes starting at offset
// into buf, returning the count copied.
func (ino *Inode) ReadAt(offset int, buf []byte) int {
	ino.fs.mu.Lock()
	defer ino.fs.mu.Unlock()
	return ino.readAtLocked(offset, buf)
}

func (ino *Inode) readAtLocked(offset int, buf []byte) int {
	var size uint32
	var snapshot DiskInode
	ino.readDisk(func(d *DiskInode) { snapshot = *d; size = d.Size })

	end := offset + len(buf)
	if uint32(end) > size {
		end = int(size)
	}
	if offset >= end {
		return 0
	}

	read := 0
	start := offset
	for start < end {
		blockOff := start % blockdev.BlockSize
		chunk := blockdev.BlockSize - blockOff
		if start+chunk > end {
			chunk = end - start
		}
		blkID := ino.dataBlockID(&snapshot, uint32(start/blockdev.BlockSize))
		s := ino.fs.Cache.Get(int(blkID))
		blockcache.Read(s, 0, func(b *[blockdev.BlockSize]byte) {
			copy(buf[read:read+chunk], b[blockOff:blockOff+chunk])
		})
		ino.fs.Cache.Release(s)
		read += chunk
		start += chunk
	}
	return read
}

// WriteAt writes buf at offset, growing the inode first if the write
// extends past the current size, and returns the count written.
func (ino *Inode) WriteAt(offset int, buf []byte) int {
	ino.fs.mu.Lock()
	defer ino.fs.mu.Unlock()
	return ino.writeAtLocked(offset, buf)
}

func (ino *Inode) writeAtLocked(offset int, buf []byte) int {
	end := uint32(offset + len(buf))
	var size uint32
	ino.readDisk(func(d *DiskInode) { size = d.Size })
	if end > size {
		ino.increaseSizeLocked(end)
	}

	var snapshot DiskInode
	ino.readDisk(func(d *DiskInode) { snapshot = *d })

	written := 0
	start := offset
	stop := offset + len(buf)
	for start < stop {
		blockOff := start % blockdev.BlockSize
		chunk := blockdev.BlockSize - blockOff
		if start+chunk > stop {
			chunk = stop - start
		}
		blkID := ino.dataBlockID(&snapshot, uint32(start/blockdev.BlockSize))
		s := ino.fs.Cache.Get(int(blkID))
		blockcache.Modify(s, 0, func(b *[blockdev.BlockSize]byte) {
			copy(b[blockOff:blockOff+chunk], buf[written:written+chunk])
		})
		ino.fs.Cache.Release(s)
		written += chunk
		start += chunk
	}
	return written
}

// increaseSizeLocked grows the inode to newSize, allocating whatever
// direct/indirect1/indirect2 blocks are newly needed. Caller must hold
// ino.fs.mu.
func (ino *Inode) increaseSizeLocked(newSize uint32) {
	var d DiskInode
	ino.readDisk(func(got *DiskInode) { d = *got })

	need := d.BlocksNeeded(newSize)
	blocks := make([]uint32, 0, need)
	for i := uint32(0); i < need; i++ {
		id, ok := ino.fs.allocData()
		if !ok {
			panic("fs: data region exhausted growing inode")
		}
		blocks = append(blocks, id)
	}

	ino.modifyDisk(func(got *DiskInode) {
		got.Size = newSize
	})

	curBlocks := dataBlocksFor(d.Size)
	newBlocks := dataBlocksFor(newSize)
	idx := 0

	// fill direct slots
	for curBlocks < newBlocks && curBlocks < DirectCount && idx < len(blocks) {
		ino.modifyDisk(func(got *DiskInode) { got.Direct[curBlocks] = blocks[idx] })
		curBlocks++
		idx++
	}
	if curBlocks >= newBlocks {
		return
	}

	// indirect1 index block, allocated once when first needed
	ino.readDisk(func(got *DiskInode) { d = *got })
	if d.Indirect1 == 0 && curBlocks >= DirectCount {
		ino.modifyDisk(func(got *DiskInode) { got.Indirect1 = blocks[idx] })
		idx++
	}
	ino.readDisk(func(got *DiskInode) { d = *got })
	for curBlocks < newBlocks && curBlocks < DirectCount+Indirect1Count && idx < len(blocks) {
		pos := curBlocks - DirectCount
		s := ino.fs.Cache.Get(int(d.Indirect1))
		blockcache.Modify(s, 0, func(blk *IndirectBlock) { blk[pos] = blocks[idx] })
		ino.fs.Cache.Release(s)
		curBlocks++
		idx++
	}
	if curBlocks >= newBlocks {
		return
	}

	// indirect2: an index-of-indirect1 block, each pointing at its own
	// indirect1 block of data pointers
	ino.readDisk(func(got *DiskInode) { d = *got })
	if d.Indirect2 == 0 {
		ino.modifyDisk(func(got *DiskInode) { got.Indirect2 = blocks[idx] })
		idx++
	}
	ino.readDisk(func(got *DiskInode) { d = *got })
	for curBlocks < newBlocks && idx < len(blocks) {
		rel := curBlocks - DirectCount - Indirect1Count
		outer := rel / Indirect1Count
		within := rel % Indirect1Count

		var indirect1 uint32
		s := ino.fs.Cache.Get(int(d.Indirect2))
		if within == 0 {
			indirect1 = blocks[idx]
			idx++
			blockcache.Modify(s, 0, func(blk *IndirectBlock) { blk[outer] = indirect1 })
		} else {
			blockcache.Read(s, 0, func(blk *IndirectBlock) { indirect1 = blk[outer] })
		}
		ino.fs.Cache.Release(s)

		s2 := ino.fs.Cache.Get(int(indirect1))
		blockcache.Modify(s2, 0, func(blk *IndirectBlock) { blk[within] = blocks[idx] })
		ino.fs.Cache.Release(s2)
		idx++
		curBlocks++
	}
}

// Clear truncates the inode to zero size, returning every block it
// owned (including indirect index blocks) to the data bitmap.
func (ino *Inode) Clear() {
	ino.fs.mu.Lock()
	defer ino.fs.mu.Unlock()

	var d DiskInode
	ino.readDisk(func(got *DiskInode) { d = *got })
	dataBlocks := d.DataBlocks()

	n := uint32(0)
	for ; n < dataBlocks && n < DirectCount; n++ {
		ino.fs.deallocData(d.Direct[n])
	}
	if dataBlocks > DirectCount {
		remaining := dataBlocks - DirectCount
		if remaining > Indirect1Count {
			remaining = Indirect1Count
		}
		s := ino.fs.Cache.Get(int(d.Indirect1))
		for i := uint32(0); i < remaining; i++ {
			blockcache.Read(s, 0, func(blk *IndirectBlock) { ino.fs.deallocData(blk[i]) })
		}
		ino.fs.Cache.Release(s)
		ino.fs.deallocData(d.Indirect1)
	}
	if dataBlocks > DirectCount+Indirect1Count {
		remaining := dataBlocks - DirectCount - Indirect1Count
		outerN := (remaining + Indirect1Count - 1) / Indirect1Count
		s2 := ino.fs.Cache.Get(int(d.Indirect2))
		for o := uint32(0); o < outerN; o++ {
			var indirect1 uint32
			blockcache.Read(s2, 0, func(blk *IndirectBlock) { indirect1 = blk[o] })
			within := remaining
			if within > Indirect1Count {
				within = Indirect1Count
			}
			s3 := ino.fs.Cache.Get(int(indirect1))
			for i := uint32(0); i < within; i++ {
				blockcache.Read(s3, 0, func(blk *IndirectBlock) { ino.fs.deallocData(blk[i]) })
			}
			ino.fs.Cache.Release(s3)
			ino.fs.deallocData(indirect1)
			remaining -= within
		}
		ino.fs.Cache.Release(s2)
		ino.fs.deallocData(d.Indirect2)
	}

	ino.modifyDisk(func(got *DiskInode) { got.Size = 0; got.Indirect1 = 0; got.Indirect2 = 0 })
}

func (ino *Inode) entriesLocked() []DirEntry {
	size := ino.Size()
	count := int(size) / DirEntrySize
	out := make([]DirEntry, 0, count)
	for i := 0; i < count; i++ {
		var raw [DirEntrySize]byte
		ino.readAtLocked(i*DirEntrySize, raw[:])
		e := DecodeDirEntry(raw)
		if !e.Empty() {
			out = append(out, e)
		}
	}
	return out
}

// Find looks up name in this directory, returning the child Inode
// handle if present.
func (ino *Inode) Find(name string) (*Inode, bool) {
	ino.fs.mu.Lock()
	defer ino.fs.mu.Unlock()
	return ino.findLocked(name)
}

func (ino *Inode) findLocked(name string) (*Inode, bool) {
	target, ok := ustr.FromString(name)
	if !ok {
		return nil, false
	}
	for _, e := range ino.entriesLocked() {
		if e.Name.Eq(target) {
			blkID, off := ino.fs.diskInodePos(e.Inode)
			return &Inode{fs: ino.fs, blockID: blkID, offset: off}, true
		}
	}
	return nil, false
}

// Ls lists the names present in this directory.
func (ino *Inode) Ls() []string {
	ino.fs.mu.Lock()
	defer ino.fs.mu.Unlock()
	entries := ino.entriesLocked()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name.String())
	}
	return names
}

// Create makes a new inode of type t named name in this directory, failing
// if the name already exists. The whole check-then-act sequence runs
// under ino.fs.mu, so at most one creator for a given name can be in
// flight at a time (spec.md §4.6).
func (ino *Inode) Create(name string, t InodeType) (*Inode, bool) {
	ino.fs.mu.Lock()
	defer ino.fs.mu.Unlock()

	if _, ok := ino.findLocked(name); ok {
		return nil, false
	}
	uname, ok := ustr.FromString(name)
	if !ok {
		return nil, false
	}

	newIno, ok := ino.fs.allocInode()
	if !ok {
		return nil, false
	}
	blkID, off := ino.fs.diskInodePos(newIno)
	child := &Inode{fs: ino.fs, blockID: blkID, offset: off}
	child.modifyDisk(func(d *DiskInode) { d.InitInode(t) })

	size := ino.Size()
	entry := DirEntry{Name: uname, Inode: newIno}
	raw := entry.Encode()
	ino.writeAtLocked(int(size), raw[:])

	return child, true
}
