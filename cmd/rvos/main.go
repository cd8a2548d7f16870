// Command rvos is the kernel harness entry point: it wires the frame
// allocator, kernel address space, block-cached filesystem, task
// manager, and trap dispatcher together and runs the scheduler to
// completion, replacing the teacher's kernel/chentry.go (a bootloader
// build-time ELF patcher with no runtime role in this hosted port) as
// this repo's "start the kernel" command.
//
// This simulation has no RISC-V instruction interpreter, so there is
// no ELF user binary to load and execute; the harness instead boots a
// small built-in init process whose body is a Go closure driving the
// mounted filesystem through the same syscall-dispatch path a real
// trap handler would use (see internal/trap's package doc).
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/rvos/kernel/internal/blockdev"
	"github.com/rvos/kernel/internal/config"
	"github.com/rvos/kernel/internal/defs"
	"github.com/rvos/kernel/internal/fs"
	"github.com/rvos/kernel/internal/klog"
	"github.com/rvos/kernel/internal/mem"
	"github.com/rvos/kernel/internal/sched"
	"github.com/rvos/kernel/internal/task"
	"github.com/rvos/kernel/internal/trap"
	"github.com/rvos/kernel/internal/vm"
)

// framePoolPages bounds the simulated physical memory the harness
// hands to the frame allocator, large enough for a kernel stack per
// hart plus a handful of user address spaces.
const framePoolPages = 8192

func main() {
	runner := &config.Runner{}
	config.BindRunnerFlags(pflag.CommandLine, runner)
	pflag.Parse()

	if err := run(runner); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(runner *config.Runner) error {
	lvl, err := zerolog.ParseLevel(runner.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "rvos: parsing --log-level %q", runner.LogLevel)
	}
	klog.SetLevel(lvl)
	log := klog.Get("rvos")

	efs, err := mountOrCreate(runner.Image)
	if err != nil {
		return errors.Wrap(err, "rvos: mounting filesystem")
	}

	alloc := mem.NewFrameAllocator(0, framePoolPages)
	trampoline, ok := alloc.Alloc()
	if !ok {
		return errors.New("rvos: out of memory allocating trampoline page")
	}
	kas := vm.NewKernelAddressSpace(alloc, 0, 1, trampoline.PPN())
	task.Init(kas, alloc, trampoline.PPN(), mem.VirtAddr(0x1000))

	as, ustackBase, entry := initProgramImage(alloc)
	proc := task.NewFromAddressSpace(as, ustackBase, entry, task.NewStdin(os.Stdin), task.NewStdout(os.Stdout), initBody(efs, log))

	sched.RunTasks()

	log.Info().Int("pid", proc.PID).Msg("init process finished")
	return nil
}

// mountOrCreate opens path as a filesystem image, formatting a fresh
// one if it does not already exist.
func mountOrCreate(path string) (*fs.EasyFileSystem, error) {
	info, statErr := os.Stat(path)
	if statErr == nil {
		dev, err := blockdev.OpenFileDevice(path, int(info.Size()/blockdev.BlockSize))
		if err != nil {
			return nil, err
		}
		return fs.Open(dev)
	}
	if !os.IsNotExist(statErr) {
		return nil, statErr
	}
	dev, err := blockdev.OpenFileDevice(path, config.DefaultTotalBlocks)
	if err != nil {
		return nil, err
	}
	return fs.Create(dev, config.DefaultTotalBlocks, config.DefaultInodeBitmapBlocks)
}

// initProgramImage builds the minimal address space the init
// process's closure body runs "in": one framed text/stack region,
// standing in for a loaded ELF image (see internal/task's
// NewFromAddressSpace doc for why no real ELF flows through here).
func initProgramImage(alloc *mem.FrameAllocator) (as *vm.AddressSpace, ustackBase mem.VirtPageNum, entry mem.VirtAddr) {
	as = vm.NewAddressSpace(alloc)
	text := as.InsertFramedArea(4, 5, vm.PTER|vm.PTEX|vm.PTEU)
	return as, text.Hi + 1, text.Lo.Addr()
}

// initBody lists the mounted filesystem's root directory and exits,
// exercising the trap.Syscall path (SysWrite/SysExit) the way a real
// user init process's write(2)/exit(2) calls would.
func initBody(efs *fs.EasyFileSystem, log zerolog.Logger) func(*task.Thread) {
	return func(th *task.Thread) {
		names := efs.RootInode().Ls()
		log.Info().Strs("root", names).Msg("listed filesystem root")

		va := th.Proc.UstackBase.Addr()
		for _, name := range names {
			line := name + "\n"
			if err := th.Proc.AS.CopyOut(va, []byte(line)); err != nil {
				log.Error().Err(err).Msg("copying init output to user stack")
				break
			}
			trap.Syscall(th, defs.SysWrite, 1, uint64(va), uint64(len(line)))
		}
		trap.Syscall(th, defs.SysExit, 0, 0, 0)
	}
}
