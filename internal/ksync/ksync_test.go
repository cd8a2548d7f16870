package ksync_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/ksync"
	"github.com/rvos/kernel/internal/sched"
)

func TestBlockingMutexNoLostUpdates(t *testing.T) {
	const iterations = 2000
	m := ksync.NewMutex()
	counter := 0
	var ranA, ranB bool

	worker := func(mark *bool) func() {
		return func() {
			*mark = true
			for i := 0; i < iterations; i++ {
				m.Lock()
				counter++
				m.Unlock()
				sched.SuspendCurrentAndRunNext()
			}
		}
	}

	a := sched.NewThread(1, nil, worker(&ranA))
	b := sched.NewThread(2, nil, worker(&ranB))
	sched.AddTask(a)
	sched.AddTask(b)

	sched.RunTasks()

	require.True(t, ranA)
	require.True(t, ranB)
	require.Equal(t, 2*iterations, counter)
}

func TestSemaphoreBlocksUntilUp(t *testing.T) {
	sem := ksync.NewSemaphore(0)
	var order []string

	consumer := sched.NewThread(1, nil, func() {
		order = append(order, "consumer-wait")
		sem.Down()
		order = append(order, "consumer-woken")
	})
	producer := sched.NewThread(2, nil, func() {
		order = append(order, "producer")
		sem.Up()
	})

	sched.AddTask(consumer)
	sched.AddTask(producer)
	sched.RunTasks()

	require.Equal(t, []string{"consumer-wait", "producer", "consumer-woken"}, order)
}

func TestCondvarDeliversSignalsInOrder(t *testing.T) {
	m := ksync.NewMutex()
	cv := ksync.NewCondvar()
	const items = 50

	received := make([]int, 0, items)
	produced := 0

	consumer := sched.NewThread(1, nil, func() {
		m.Lock()
		for len(received) < items {
			for produced == len(received) {
				cv.Wait(m)
			}
			received = append(received, produced)
		}
		m.Unlock()
	})
	producer := sched.NewThread(2, nil, func() {
		for i := 0; i < items; i++ {
			m.Lock()
			produced++
			m.Unlock()
			cv.Signal()
			sched.SuspendCurrentAndRunNext()
		}
	})

	sched.AddTask(consumer)
	sched.AddTask(producer)
	sched.RunTasks()

	require.Len(t, received, items)
	for i, v := range received {
		require.Equal(t, i+1, v)
	}
}

func TestTimerWakesExpiredSleepers(t *testing.T) {
	timer := ksync.NewTimer()
	var woke bool

	sleeper := sched.NewThread(1, nil, func() {
		timer.AddTimer(100)
		woke = true
	})
	sched.AddTask(sleeper)
	sched.RunTasks()
	require.False(t, woke)
	require.Equal(t, sched.StatusBlocked, sleeper.Status())

	timer.Tick(50)
	sched.RunTasks()
	require.False(t, woke, "must not wake before expiry")

	timer.Tick(100)
	sched.RunTasks()
	require.True(t, woke)
}
