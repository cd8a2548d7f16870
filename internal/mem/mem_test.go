package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameAllocRoundTrip(t *testing.T) {
	a := NewFrameAllocator(0, 8)
	f, ok := a.Alloc()
	require.True(t, ok)
	ppn := f.PPN()
	inUse, _, _ := a.Stats()
	require.Equal(t, 1, inUse)

	f.Drop()
	inUse, _, _ = a.Stats()
	require.Equal(t, 0, inUse)

	f2, ok := a.Alloc()
	require.True(t, ok)
	require.Equal(t, ppn, f2.PPN(), "recycled frame should be reused LIFO")
}

func TestFrameDeallocPanicsOnUnallocated(t *testing.T) {
	a := NewFrameAllocator(0, 4)
	require.Panics(t, func() {
		a.dealloc(3)
	})
}

func TestFrameDeallocPanicsOnDoubleFree(t *testing.T) {
	a := NewFrameAllocator(0, 4)
	f, _ := a.Alloc()
	f.Drop()
	require.Panics(t, func() {
		f.Drop()
	})
}

func TestFrameAllocExhausted(t *testing.T) {
	a := NewFrameAllocator(0, 2)
	_, ok1 := a.Alloc()
	_, ok2 := a.Alloc()
	_, ok3 := a.Alloc()
	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3)
}

func TestFramesAreZeroed(t *testing.T) {
	a := NewFrameAllocator(0, 2)
	f, _ := a.Alloc()
	buf := f.Bytes()
	buf[0] = 0xff
	f.Drop()

	f2, _ := a.Alloc()
	require.Equal(t, byte(0), f2.Bytes()[0], "reused frame must be zero-cleared")
}

func TestHeapAllocReuse(t *testing.T) {
	h := NewHeap(64)
	b1, ok := h.Alloc(16)
	require.True(t, ok)
	require.Equal(t, 16, h.Used())
	h.Free(b1)
	b2, ok := h.Alloc(16)
	require.True(t, ok)
	require.Equal(t, 16, h.Used(), "freed region should be reused instead of bumping cursor")
	_ = b2
}
