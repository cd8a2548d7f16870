package blockcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/blockdev"
)

func TestModifyThenReadSeesChange(t *testing.T) {
	dev := blockdev.NewMemDevice(4)
	m := NewManager(dev)

	s := m.Get(0)
	Modify(s, 0, func(v *uint32) { *v = 0xdeadbeef })

	var got uint32
	Read(s, 0, func(v *uint32) { got = *v })
	require.Equal(t, uint32(0xdeadbeef), got)
	m.Release(s)
}

func TestSyncAllWritesBackToDevice(t *testing.T) {
	dev := blockdev.NewMemDevice(4)
	m := NewManager(dev)

	s := m.Get(1)
	Modify(s, 4, func(v *uint8) { *v = 0x7a })
	m.SyncAll()

	var raw [blockdev.BlockSize]byte
	dev.ReadBlock(1, &raw)
	require.Equal(t, byte(0x7a), raw[4])
	m.Release(s)
}

func TestCacheCapsAtSixteenSlotsAndEvicts(t *testing.T) {
	dev := blockdev.NewMemDevice(MaxSlots + 4)
	m := NewManager(dev)

	for i := 0; i < MaxSlots; i++ {
		s := m.Get(i)
		m.Release(s)
	}
	require.Equal(t, MaxSlots, m.Len())

	// block 0 was released and is now the oldest evictable slot.
	s := m.Get(MaxSlots)
	require.Equal(t, MaxSlots, m.Len())
	m.Release(s)
}

func TestCacheFullWithAllHeldPanics(t *testing.T) {
	dev := blockdev.NewMemDevice(MaxSlots + 1)
	m := NewManager(dev)

	held := make([]*Slot, MaxSlots)
	for i := 0; i < MaxSlots; i++ {
		held[i] = m.Get(i)
	}
	require.Panics(t, func() {
		m.Get(MaxSlots)
	})
}

func TestReadModifyOutOfBoundsPanics(t *testing.T) {
	dev := blockdev.NewMemDevice(1)
	m := NewManager(dev)
	s := m.Get(0)
	require.Panics(t, func() {
		Modify(s, blockdev.BlockSize-2, func(v *uint32) {})
	})
}
