package idalloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/idalloc"
)

func TestAllocIsMonotonicWithNoRecycled(t *testing.T) {
	a := idalloc.New(0)
	require.Equal(t, 0, a.Alloc())
	require.Equal(t, 1, a.Alloc())
	require.Equal(t, 2, a.Alloc())
}

func TestDeallocRecyclesBeforeMinting(t *testing.T) {
	a := idalloc.New(5)
	x := a.Alloc()
	y := a.Alloc()
	a.Dealloc(x)
	require.Equal(t, x, a.Alloc())
	_ = y
}

func TestDeallocOfUnallocatedPanics(t *testing.T) {
	a := idalloc.New(0)
	require.Panics(t, func() { a.Dealloc(3) })
}

func TestDeallocTwicePanics(t *testing.T) {
	a := idalloc.New(0)
	id := a.Alloc()
	a.Dealloc(id)
	require.Panics(t, func() { a.Dealloc(id) })
}
