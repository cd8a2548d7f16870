package task_test

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/mem"
	"github.com/rvos/kernel/internal/sched"
	"github.com/rvos/kernel/internal/task"
	"github.com/rvos/kernel/internal/vm"
)

// testProgram builds a bare address space with one executable region
// (standing in for an ELF's loaded text) and a user-stack base VPN
// above it, avoiding any dependency on a real ELF image in tests.
func testProgram(alloc *mem.FrameAllocator) (as *vm.AddressSpace, ustackBase mem.VirtPageNum, entry mem.VirtAddr) {
	as = vm.NewAddressSpace(alloc)
	text := as.InsertFramedArea(4, 5, vm.PTER|vm.PTEX|vm.PTEU)
	return as, text.Hi + 1, text.Lo.Addr()
}

func setupTask(t *testing.T) *mem.FrameAllocator {
	t.Helper()
	alloc := mem.NewFrameAllocator(0, 8192)
	kf, ok := alloc.Alloc()
	require.True(t, ok)
	kas := vm.NewKernelAddressSpace(alloc, 0, 1, kf.PPN())
	task.Init(kas, alloc, kf.PPN(), 0x1000)
	return alloc
}

func TestProcessNewInstallsStdFds(t *testing.T) {
	alloc := setupTask(t)
	as, ub, entry := testProgram(alloc)

	var ran bool
	var mu sync.Mutex
	p := task.NewFromAddressSpace(as, ub, entry, task.NewStdin(strings.NewReader("")), task.NewStdout(&bytes.Buffer{}), func(th *task.Thread) {
		mu.Lock()
		ran = true
		mu.Unlock()
		th.Proc.Exit(0)
	})

	sched.RunTasks()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, ran)
	require.NotNil(t, p.Fds.Get(0))
	require.NotNil(t, p.Fds.Get(1))
	require.NotNil(t, p.Fds.Get(2))
}

func TestForkExecWaitpidScenario(t *testing.T) {
	alloc := setupTask(t)
	as, ub, entry := testProgram(alloc)

	var out bytes.Buffer
	parent := task.NewFromAddressSpace(as, ub, entry, task.NewStdin(strings.NewReader("")), task.NewStdout(&out), func(th *task.Thread) {
		childAS, childUB, childEntry := testProgram(alloc)
		child := th.Proc.Fork(func(childTh *task.Thread) {
			childTh.Proc.ExecFromAddressSpace(childAS, childUB, childEntry, []string{"hello"}, func(execTh *task.Thread) {
				execTh.Proc.Fds.Get(1).Write([]byte("hello\n"))
				execTh.Proc.Exit(7)
			})
		})

		for {
			gotPID, exitCode, status := th.Proc.Waitpid(child.PID)
			if status == -2 {
				sched.SuspendCurrentAndRunNext()
				continue
			}
			require.Equal(t, 0, status)
			require.Equal(t, child.PID, gotPID)
			require.Equal(t, 7, exitCode)
			break
		}
		th.Proc.Exit(0)
	})

	sched.RunTasks()

	require.Equal(t, "hello\n", out.String())
	_ = parent
}

func TestWaitpidNoSuchChildReturnsECHILD(t *testing.T) {
	alloc := setupTask(t)
	as, ub, entry := testProgram(alloc)

	var gotPID, exitCode, status int
	task.NewFromAddressSpace(as, ub, entry, task.NewStdin(strings.NewReader("")), task.NewStdout(&bytes.Buffer{}), func(th *task.Thread) {
		gotPID, exitCode, status = th.Proc.Waitpid(999)
		th.Proc.Exit(0)
	})

	sched.RunTasks()

	require.Equal(t, -1, status)
	require.Equal(t, 0, gotPID)
	require.Equal(t, 0, exitCode)
}

func TestPipeFileRoundTripThroughFdTable(t *testing.T) {
	alloc := setupTask(t)
	as, ub, entry := testProgram(alloc)

	rf, wf := task.NewPipe()

	var out bytes.Buffer
	task.NewFromAddressSpace(as, ub, entry, task.NewStdin(strings.NewReader("")), task.NewStdout(&out), func(th *task.Thread) {
		rfd := th.Proc.Fds.Alloc(rf)
		wfd := th.Proc.Fds.Alloc(wf)

		writer := sched.NewThread(100, nil, func() {
			th.Proc.Fds.Get(wfd).Write([]byte("ping"))
		})
		sched.AddTask(writer)

		buf := make([]byte, 4)
		th.Proc.Fds.Get(rfd).Read(buf)
		out.Write(buf)
		th.Proc.Exit(0)
	})

	sched.RunTasks()
	require.Equal(t, "ping", out.String())
}
