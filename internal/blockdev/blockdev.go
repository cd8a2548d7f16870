// Package blockdev implements the block device contract (spec.md §6)
// and a host-file-backed disk, grounded on the teacher's fs.Disk_i
// interface (fs/blk.go) and original_source's
// os/src/drivers/block/virtio_blk.rs (the read_block/write_block
// synchronous contract it wraps).
package blockdev

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/rvos/kernel/internal/klog"
)

var log = klog.Get("blockdev")

// BlockSize is the fixed block size the contract promises, per
// spec.md §6.
const BlockSize = 512

// Device is the narrow contract every filesystem component depends
// on. Reads/writes are synchronous and must either complete fully or
// abort the caller — spec.md §7 kind (5): an implementation that
// cannot satisfy this must abort the kernel, so both implementations
// below panic rather than return an error.
type Device interface {
	ReadBlock(id int, buf *[BlockSize]byte)
	WriteBlock(id int, buf *[BlockSize]byte)
}

// MemDevice is an in-memory block device, used by unit tests.
type MemDevice struct {
	mu     sync.Mutex
	blocks [][BlockSize]byte
}

// NewMemDevice creates an in-memory device with nblocks zeroed blocks.
func NewMemDevice(nblocks int) *MemDevice {
	return &MemDevice{blocks: make([][BlockSize]byte, nblocks)}
}

func (d *MemDevice) ReadBlock(id int, buf *[BlockSize]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 0 || id >= len(d.blocks) {
		panic(fmt.Sprintf("blockdev: read out of range block %d", id))
	}
	*buf = d.blocks[id]
}

func (d *MemDevice) WriteBlock(id int, buf *[BlockSize]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 0 || id >= len(d.blocks) {
		panic(fmt.Sprintf("blockdev: write out of range block %d", id))
	}
	d.blocks[id] = *buf
}

// FileDevice backs the block device contract with a real file via
// positional pread/pwrite, the way the teacher's Disk_i is ultimately
// backed by AHCI: an out-of-process, real-I/O boundary rather than a
// Go-heap simulation. x/sys/unix gives direct pread64/pwrite64/fdatasync
// access instead of going through os.File's ReadAt/WriteAt, so a short
// read/write is detected explicitly rather than silently retried by
// the standard library.
type FileDevice struct {
	mu sync.Mutex
	fd int
}

// OpenFileDevice opens (or creates) path as a block-addressed device
// image and truncates or extends it to exactly nblocks blocks.
func OpenFileDevice(path string, nblocks int) (*FileDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		return nil, err
	}
	want := int64(nblocks) * BlockSize
	if err := unix.Ftruncate(fd, want); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &FileDevice{fd: fd}, nil
}

func (d *FileDevice) ReadBlock(id int, buf *[BlockSize]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := unix.Pread(d.fd, buf[:], int64(id)*BlockSize)
	if err != nil || n != BlockSize {
		log.Error().Err(err).Int("block", id).Int("n", n).Msg("short/failed block read")
		panic("blockdev: read_block did not complete fully")
	}
}

func (d *FileDevice) WriteBlock(id int, buf *[BlockSize]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := unix.Pwrite(d.fd, buf[:], int64(id)*BlockSize)
	if err != nil || n != BlockSize {
		log.Error().Err(err).Int("block", id).Int("n", n).Msg("short/failed block write")
		panic("blockdev: write_block did not complete fully")
	}
	if err := unix.Fdatasync(d.fd); err != nil {
		log.Error().Err(err).Msg("fdatasync failed")
		panic("blockdev: write_block could not flush to stable storage")
	}
}

// Close releases the underlying file descriptor.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return unix.Close(d.fd)
}
