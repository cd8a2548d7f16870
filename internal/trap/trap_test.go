package trap_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/defs"
	"github.com/rvos/kernel/internal/mem"
	"github.com/rvos/kernel/internal/sched"
	"github.com/rvos/kernel/internal/task"
	"github.com/rvos/kernel/internal/trap"
	"github.com/rvos/kernel/internal/vm"
)

func setupTask(t *testing.T) *mem.FrameAllocator {
	t.Helper()
	alloc := mem.NewFrameAllocator(0, 8192)
	kf, ok := alloc.Alloc()
	require.True(t, ok)
	kas := vm.NewKernelAddressSpace(alloc, 0, 1, kf.PPN())
	task.Init(kas, alloc, kf.PPN(), 0x1000)
	return alloc
}

func testProgram(alloc *mem.FrameAllocator) (as *vm.AddressSpace, ustackBase mem.VirtPageNum, entry mem.VirtAddr) {
	as = vm.NewAddressSpace(alloc)
	text := as.InsertFramedArea(4, 5, vm.PTER|vm.PTEX|vm.PTEU)
	return as, text.Hi + 1, text.Lo.Addr()
}

func TestSyscallWriteCopiesFromUserMemory(t *testing.T) {
	alloc := setupTask(t)
	as, ub, entry := testProgram(alloc)

	var out bytes.Buffer
	var result uint64
	task.NewFromAddressSpace(as, ub, entry, task.NewStdin(strings.NewReader("")), task.NewStdout(&out), func(th *task.Thread) {
		va := th.Proc.UstackBase.Addr()
		require.NoError(t, th.Proc.AS.CopyOut(va, []byte("hi")))
		result, _ = trap.Syscall(th, defs.SysWrite, 1, uint64(va), 2)
		th.Proc.Exit(0)
	})

	sched.RunTasks()
	require.Equal(t, uint64(2), result)
	require.Equal(t, "hi", out.String())
}

func TestSyscallExitEndsProcess(t *testing.T) {
	alloc := setupTask(t)
	as, ub, entry := testProgram(alloc)

	var exited bool
	task.NewFromAddressSpace(as, ub, entry, task.NewStdin(strings.NewReader("")), task.NewStdout(&bytes.Buffer{}), func(th *task.Thread) {
		_, exited = trap.Syscall(th, defs.SysExit, 5, 0, 0)
	})

	sched.RunTasks()
	require.True(t, exited)
}

func TestDispatchStoreFaultKillsWithSIGSEGVCode(t *testing.T) {
	alloc := setupTask(t)
	as, ub, entry := testProgram(alloc)

	var killed bool
	p := task.NewFromAddressSpace(as, ub, entry, task.NewStdin(strings.NewReader("")), task.NewStdout(&bytes.Buffer{}), func(th *task.Thread) {
		killed = trap.Dispatch(th, trap.CauseStoreFault)
	})

	sched.RunTasks()
	require.True(t, killed)
	require.Equal(t, 139, p.ExitCode)
}

func TestSyscallUnknownIDReturnsENOSYS(t *testing.T) {
	alloc := setupTask(t)
	as, ub, entry := testProgram(alloc)

	var result uint64
	task.NewFromAddressSpace(as, ub, entry, task.NewStdin(strings.NewReader("")), task.NewStdout(&bytes.Buffer{}), func(th *task.Thread) {
		result, _ = trap.Syscall(th, 99999, 0, 0, 0)
		th.Proc.Exit(0)
	})

	sched.RunTasks()
	require.Equal(t, uint64(-int64(defs.ENOSYS)), result)
}
