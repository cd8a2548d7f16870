package fs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/blockdev"
	"github.com/rvos/kernel/internal/fs"
)

const testTotalBlocks = 4096
const testInodeBitmapBlocks = 1

func newTestFS(t *testing.T) *fs.EasyFileSystem {
	t.Helper()
	dev := blockdev.NewMemDevice(testTotalBlocks)
	efs, err := fs.Create(dev, testTotalBlocks, testInodeBitmapBlocks)
	require.NoError(t, err)
	return efs
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	efs := newTestFS(t)
	root := efs.RootInode()

	child, ok := root.Create("hello.txt", fs.TypeFile)
	require.True(t, ok)

	payload := []byte("hello, filesystem")
	n := child.WriteAt(0, payload)
	require.Equal(t, len(payload), n)

	got := make([]byte, len(payload))
	n = child.ReadAt(0, got)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, got)

	require.Equal(t, []string{"hello.txt"}, root.Ls())
}

func TestReopenPreservesDirectory(t *testing.T) {
	dev := blockdev.NewMemDevice(testTotalBlocks)
	efs, err := fs.Create(dev, testTotalBlocks, testInodeBitmapBlocks)
	require.NoError(t, err)

	root := efs.RootInode()
	child, ok := root.Create("a", fs.TypeFile)
	require.True(t, ok)
	child.WriteAt(0, []byte("data"))
	efs.Cache.SyncAll()

	reopened, err := fs.Open(dev)
	require.NoError(t, err)
	root2 := reopened.RootInode()
	require.Equal(t, []string{"a"}, root2.Ls())

	found, ok := root2.Find("a")
	require.True(t, ok)
	buf := make([]byte, 4)
	found.ReadAt(0, buf)
	require.Equal(t, "data", string(buf))
}

func TestCreateDuplicateNameFails(t *testing.T) {
	efs := newTestFS(t)
	root := efs.RootInode()

	_, ok := root.Create("dup", fs.TypeFile)
	require.True(t, ok)

	_, ok = root.Create("dup", fs.TypeFile)
	require.False(t, ok)
}

func TestFileGrowthAcrossIndirectBoundaries(t *testing.T) {
	efs := newTestFS(t)
	root := efs.RootInode()
	child, ok := root.Create("big", fs.TypeFile)
	require.True(t, ok)

	// span direct (28 blocks), indirect1 (128 blocks), and into
	// indirect2, writing a distinct byte value per block so misdirected
	// reads are detectable.
	blocksToWrite := fs.DirectCount + fs.Indirect1Count + 10
	buf := make([]byte, blockdev.BlockSize)
	for i := 0; i < blocksToWrite; i++ {
		for j := range buf {
			buf[j] = byte(i)
		}
		n := child.WriteAt(i*blockdev.BlockSize, buf)
		require.Equal(t, blockdev.BlockSize, n)
	}

	require.EqualValues(t, blocksToWrite*blockdev.BlockSize, child.Size())

	readBack := make([]byte, blockdev.BlockSize)
	for i := 0; i < blocksToWrite; i++ {
		n := child.ReadAt(i*blockdev.BlockSize, readBack)
		require.Equal(t, blockdev.BlockSize, n)
		for j := range readBack {
			require.Equalf(t, byte(i), readBack[j], "block %d byte %d", i, j)
		}
	}
}

func TestClearReturnsBlocksForReuse(t *testing.T) {
	efs := newTestFS(t)
	root := efs.RootInode()

	child, ok := root.Create("grown", fs.TypeFile)
	require.True(t, ok)

	blocksToWrite := fs.DirectCount + fs.Indirect1Count + 5
	buf := make([]byte, blockdev.BlockSize)
	for i := 0; i < blocksToWrite; i++ {
		child.WriteAt(i*blockdev.BlockSize, buf)
	}
	used := make([]int, 0, blocksToWrite)
	for {
		bit, ok := efs.DataBitmap.Alloc()
		if !ok {
			break
		}
		used = append(used, bit)
	}
	remainingCapacity := len(used)
	for _, bit := range used {
		efs.DataBitmap.Dealloc(bit)
	}

	child.Clear()
	require.EqualValues(t, 0, child.Size())

	freedUp := 0
	for {
		_, ok := efs.DataBitmap.Alloc()
		if !ok {
			break
		}
		freedUp++
	}
	require.Greater(t, freedUp, remainingCapacity, "clear should have returned the file's blocks to the bitmap")
}

func TestFindMissingNameFails(t *testing.T) {
	efs := newTestFS(t)
	root := efs.RootInode()
	_, ok := root.Find("nope")
	require.False(t, ok)
}
