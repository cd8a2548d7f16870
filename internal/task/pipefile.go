package task

import (
	"errors"

	"github.com/rvos/kernel/internal/pipe"
)

var (
	errWriteToReadEnd   = errors.New("task: write to pipe read end")
	errReadFromWriteEnd = errors.New("task: read from pipe write end")
)

// pipeReadFile and pipeWriteFile adapt a pipe's two ends to the fd
// table's File interface (spec.md §4.7/§9).
type pipeReadFile struct{ end *pipe.ReadEnd }
type pipeWriteFile struct{ end *pipe.WriteEnd }

func (f *pipeReadFile) Readable() bool { return true }
func (f *pipeReadFile) Writable() bool { return false }
func (f *pipeReadFile) Read(buf []byte) (int, error) {
	return f.end.Read(buf), nil
}
func (f *pipeReadFile) Write([]byte) (int, error) {
	return 0, errWriteToReadEnd
}

func (f *pipeWriteFile) Readable() bool { return false }
func (f *pipeWriteFile) Writable() bool { return true }
func (f *pipeWriteFile) Read([]byte) (int, error) {
	return 0, errReadFromWriteEnd
}
func (f *pipeWriteFile) Write(buf []byte) (int, error) {
	return f.end.Write(buf), nil
}

// dupFile returns the fd table's own live reference for fork, bumping
// any underlying refcount (pipe write-ends) rather than sharing one
// Go value across two process fd tables blindly.
func (f *pipeWriteFile) dupFile() File {
	return &pipeWriteFile{end: f.end.Dup()}
}

// duper is implemented by fd-table entries that own a refcount Dup
// must bump (currently only pipe write-ends); entries without it are
// shared as-is across fork, matching spec.md §4.12's "shared refs".
type duper interface {
	dupFile() File
}

// NewPipe creates a connected pipe and returns its two fd-table files.
func NewPipe() (File, File) {
	r, w := pipe.New()
	return &pipeReadFile{end: r}, &pipeWriteFile{end: w}
}
