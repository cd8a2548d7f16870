package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/mem"
)

func TestPageTableRoundTrip(t *testing.T) {
	alloc := mem.NewFrameAllocator(0, 64)
	pt := NewPageTable(alloc)

	f, ok := alloc.Alloc()
	require.True(t, ok)

	vpn := mem.VirtPageNum(5)
	require.NoError(t, pt.Map(vpn, f.PPN(), PTER|PTEW))

	got, ok := pt.Translate(vpn)
	require.True(t, ok)
	require.Equal(t, f.PPN(), got.PPN())
	require.Equal(t, PTER|PTEW|PTEValid, got.Flags())

	require.NoError(t, pt.Unmap(vpn))
	_, ok = pt.Translate(vpn)
	require.False(t, ok)
}

func TestPageTableMapTwiceFails(t *testing.T) {
	alloc := mem.NewFrameAllocator(0, 64)
	pt := NewPageTable(alloc)
	f, _ := alloc.Alloc()
	require.NoError(t, pt.Map(1, f.PPN(), PTER))
	err := pt.Map(1, f.PPN(), PTER)
	require.Error(t, err)
}

func TestPageTableUnmapInvalidFails(t *testing.T) {
	alloc := mem.NewFrameAllocator(0, 64)
	pt := NewPageTable(alloc)
	err := pt.Unmap(7)
	require.Error(t, err)
}

func TestAddressSpaceFramedRoundTrip(t *testing.T) {
	alloc := mem.NewFrameAllocator(0, 1024)
	as := NewAddressSpace(alloc)

	r := as.InsertFramedArea(10, 13, PTER|PTEW|PTEU)
	require.Len(t, as.Areas, 1)
	require.Equal(t, 3, len(r.frames))

	for vpn := r.Lo; vpn < r.Hi; vpn++ {
		_, ok := as.Translate(vpn)
		require.True(t, ok)
	}

	require.True(t, as.RemoveAreaWithStartVPN(10))
	for vpn := r.Lo; vpn < r.Hi; vpn++ {
		_, ok := as.Translate(vpn)
		require.False(t, ok)
	}
}

func TestAddressSpaceRecycleKeepsIdentity(t *testing.T) {
	alloc := mem.NewFrameAllocator(0, 1024)
	as := NewAddressSpace(alloc)
	as.InsertIdentityArea(0, 4, PTER|PTEW|PTEX)
	as.InsertFramedArea(100, 102, PTER|PTEW|PTEU)

	as.RecycleDataPages()

	require.Len(t, as.Areas, 1)
	_, ok := as.Translate(0)
	require.True(t, ok, "identity region should survive recycle")
	_, ok = as.Translate(100)
	require.False(t, ok, "framed region should be dropped by recycle")
}

func TestFromExistedUserCopiesFrameContents(t *testing.T) {
	alloc := mem.NewFrameAllocator(0, 1024)
	parent := NewAddressSpace(alloc)
	r := parent.InsertFramedArea(0, 1, PTER|PTEW|PTEU)
	r.frames[0].Bytes()[0] = 0x42

	child := FromExistedUser(parent, alloc)
	pte, ok := child.Translate(0)
	require.True(t, ok)
	require.Equal(t, byte(0x42), alloc.PageAt(pte.PPN())[0])

	// Not copy-on-write: mutating the child must not affect the parent.
	alloc.PageAt(pte.PPN())[0] = 0x99
	parentPTE, _ := parent.Translate(0)
	require.Equal(t, byte(0x42), alloc.PageAt(parentPTE.PPN())[0])
}

func TestTrapContextAndKernelStackPlacement(t *testing.T) {
	require.NotEqual(t, TrapContextVPN(0), TrapContextVPN(1))
	lo0, hi0 := KernelStackVPNRange(0)
	lo1, hi1 := KernelStackVPNRange(1)
	require.Less(t, hi1, lo0, "kernel stack slots must not overlap")
	require.Equal(t, KernelStackPages, hi0-lo0)
}
