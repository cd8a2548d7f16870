package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/fs"
	"github.com/rvos/kernel/internal/mem"
	"github.com/rvos/kernel/internal/sched"
	"github.com/rvos/kernel/internal/task"
	"github.com/rvos/kernel/internal/vm"
)

func TestMountOrCreateFormatsMissingImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.img")
	efs, err := mountOrCreate(path)
	require.NoError(t, err)
	require.Empty(t, efs.RootInode().Ls())
}

func TestMountOrCreateReopensExistingImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.img")
	efs, err := mountOrCreate(path)
	require.NoError(t, err)
	_, ok := efs.RootInode().Create("marker", fs.TypeFile)
	require.True(t, ok)
	efs.Cache.SyncAll()

	reopened, err := mountOrCreate(path)
	require.NoError(t, err)
	require.Contains(t, reopened.RootInode().Ls(), "marker")
}

func TestInitBodyWritesRootListingToStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.img")
	efs, err := mountOrCreate(path)
	require.NoError(t, err)
	_, ok := efs.RootInode().Create("filea", fs.TypeFile)
	require.True(t, ok)

	alloc := mem.NewFrameAllocator(0, 8192)
	trampoline, ok := alloc.Alloc()
	require.True(t, ok)
	kas := vm.NewKernelAddressSpace(alloc, 0, 1, trampoline.PPN())
	task.Init(kas, alloc, trampoline.PPN(), mem.VirtAddr(0x1000))

	as, ustackBase, entry := initProgramImage(alloc)
	var out bytes.Buffer
	task.NewFromAddressSpace(as, ustackBase, entry, task.NewStdin(strings.NewReader("")), task.NewStdout(&out), initBody(efs, zerolog.Nop()))

	sched.RunTasks()
	require.Equal(t, "filea\n", out.String())
}
