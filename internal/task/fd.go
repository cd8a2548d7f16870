// Package task implements the process/thread control blocks and
// lifecycle operations of spec.md §4.9 and §4.12, grounded on
// original_source/os/src/task/process.rs and task.rs for the
// PCB/TCB shapes and on the teacher's fd package (fd/fd.go's
// Fd_t/Fdops_i split of descriptor-vs-operations) for the fd table,
// whose entries are values of the File interface, dispatched
// dynamically.
package task

import (
	"fmt"
	"io"
)

// File is the narrow capability interface spec.md §9 names for fd
// table entries. Stdin, Stdout and the two pipe ends implement it; no
// File in this package is backed by a filesystem inode.
type File interface {
	Readable() bool
	Writable() bool
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
}

// stdinFile reads from the kernel harness's console input.
type stdinFile struct{ r io.Reader }

func (f *stdinFile) Readable() bool { return true }
func (f *stdinFile) Writable() bool { return false }
func (f *stdinFile) Read(buf []byte) (int, error) {
	return f.r.Read(buf)
}
func (f *stdinFile) Write([]byte) (int, error) {
	return 0, fmt.Errorf("task: write to stdin")
}

// stdoutFile writes to the kernel harness's console output.
type stdoutFile struct{ w io.Writer }

func (f *stdoutFile) Readable() bool { return false }
func (f *stdoutFile) Writable() bool { return true }
func (f *stdoutFile) Read([]byte) (int, error) {
	return 0, fmt.Errorf("task: read from stdout")
}
func (f *stdoutFile) Write(buf []byte) (int, error) {
	return f.w.Write(buf)
}

// NewStdin wraps r as fd 0's file.
func NewStdin(r io.Reader) File { return &stdinFile{r: r} }

// NewStdout wraps w as an fd's file, used for both stdout and stderr
// per original_source's process.rs (fd 1 and fd 2 both point at
// Stdout).
func NewStdout(w io.Writer) File { return &stdoutFile{w: w} }

// FdTable is a process's open file descriptor table. Slots may be nil
// once closed; Alloc reuses the lowest free slot.
type FdTable struct {
	slots []File
}

// Alloc installs f at the lowest free slot and returns its fd number.
func (t *FdTable) Alloc(f File) int {
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = f
			return i
		}
	}
	t.slots = append(t.slots, f)
	return len(t.slots) - 1
}

// Get returns the file at fd, or nil if out of range or closed.
func (t *FdTable) Get(fd int) File {
	if fd < 0 || fd >= len(t.slots) {
		return nil
	}
	return t.slots[fd]
}

// Close clears fd's slot, returning false if it was already empty.
func (t *FdTable) Close(fd int) bool {
	if fd < 0 || fd >= len(t.slots) || t.slots[fd] == nil {
		return false
	}
	t.slots[fd] = nil
	return true
}

// Dup duplicates the whole table into a fresh one for fork's "shared
// refs" fd-table copy (spec.md §4.12). Entries implementing duper
// (pipe write-ends) get their own bumped-refcount copy; everything
// else is shared as-is.
func (t *FdTable) Dup() *FdTable {
	n := &FdTable{slots: make([]File, len(t.slots))}
	for i, f := range t.slots {
		if f == nil {
			continue
		}
		if d, ok := f.(duper); ok {
			n.slots[i] = d.dupFile()
		} else {
			n.slots[i] = f
		}
	}
	return n
}
