package pipe_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/pipe"
	"github.com/rvos/kernel/internal/sched"
)

func TestPipeSmallRoundTrip(t *testing.T) {
	r, w := pipe.New()
	var got [5]byte

	writer := sched.NewThread(1, nil, func() {
		w.Write([]byte("hello"))
		w.Close()
	})
	var n int
	reader := sched.NewThread(2, nil, func() {
		n = r.Read(got[:])
	})

	sched.AddTask(writer)
	sched.AddTask(reader)
	sched.RunTasks()

	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(got[:]))
}

func TestPipeLargeTransferAndEOF(t *testing.T) {
	const total = 100000
	r, w := pipe.New()

	writer := sched.NewThread(1, nil, func() {
		chunk := make([]byte, 997)
		for i := range chunk {
			chunk[i] = byte(i)
		}
		sent := 0
		for sent < total {
			n := len(chunk)
			if sent+n > total {
				n = total - sent
			}
			w.Write(chunk[:n])
			sent += n
		}
		w.Close()
	})

	readCount := 0
	eofSeen := false
	reader := sched.NewThread(2, nil, func() {
		buf := make([]byte, 4096)
		for {
			n := r.Read(buf)
			if n == 0 {
				eofSeen = true
				return
			}
			readCount += n
		}
	})

	sched.AddTask(writer)
	sched.AddTask(reader)
	sched.RunTasks()

	require.Equal(t, total, readCount)
	require.True(t, eofSeen)
}

func TestPipeBlocksWhenEmptyUntilWrite(t *testing.T) {
	r, w := pipe.New()
	var order []string

	reader := sched.NewThread(1, nil, func() {
		order = append(order, "reader-wait")
		buf := make([]byte, 1)
		r.Read(buf)
		order = append(order, "reader-done")
	})
	writer := sched.NewThread(2, nil, func() {
		order = append(order, "writer")
		w.Write([]byte{42})
	})

	sched.AddTask(reader)
	sched.AddTask(writer)
	sched.RunTasks()

	require.Equal(t, []string{"reader-wait", "writer", "reader-done"}, order)
}
