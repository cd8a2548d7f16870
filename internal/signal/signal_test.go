package signal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvos/kernel/internal/defs"
	"github.com/rvos/kernel/internal/signal"
)

func TestStepDeliversRegisteredHandlerAndBacksUpContext(t *testing.T) {
	s := signal.NewState()
	s.SetAction(defs.SIGHUP, signal.Action{HandlerVA: 0x4000})
	s.Raise(defs.SIGHUP)

	var saved bool
	out := s.Step(func() signal.TrapSnapshot {
		saved = true
		return signal.TrapSnapshot{Sepc: 0x1000}
	})

	require.True(t, saved)
	require.True(t, out.Deliver)
	require.Equal(t, uint64(0x4000), out.HandlerVA)
	require.Equal(t, defs.SIGHUP, out.Signum)

	snap, ok := s.Sigreturn()
	require.True(t, ok)
	require.Equal(t, uint64(0x1000), snap.Sepc)

	_, ok = s.Sigreturn()
	require.False(t, ok)
}

func TestStepHoldsSignalsWhileHandlerIsRunning(t *testing.T) {
	s := signal.NewState()
	s.SetAction(defs.SIGHUP, signal.Action{HandlerVA: 0x4000})
	s.SetAction(defs.SIGINT, signal.Action{HandlerVA: 0x5000})
	s.Raise(defs.SIGHUP)

	out := s.Step(func() signal.TrapSnapshot { return signal.TrapSnapshot{} })
	require.True(t, out.Deliver)

	s.Raise(defs.SIGINT)
	out2 := s.Step(func() signal.TrapSnapshot { return signal.TrapSnapshot{} })
	require.False(t, out2.Deliver)
	require.False(t, out2.Kill)

	_, ok := s.Sigreturn()
	require.True(t, ok)

	out3 := s.Step(func() signal.TrapSnapshot { return signal.TrapSnapshot{} })
	require.True(t, out3.Deliver)
	require.Equal(t, defs.SIGINT, out3.Signum)
}

func TestUnhandledSIGSEGVKillsWithConventionalCode(t *testing.T) {
	s := signal.NewState()
	s.Raise(defs.SIGSEGV)

	out := s.Step(func() signal.TrapSnapshot { return signal.TrapSnapshot{} })
	require.True(t, out.Kill)
	require.Equal(t, 139, out.ExitCode)
}

func TestSIGKILLIsHandledInKernelRegardlessOfMask(t *testing.T) {
	s := signal.NewState()
	s.SetMask(signal.Set(0).With(defs.SIGKILL))
	s.Raise(defs.SIGKILL)

	out := s.Step(func() signal.TrapSnapshot { return signal.TrapSnapshot{} })
	require.True(t, out.Kill)
	require.Equal(t, 128+defs.SIGKILL, out.ExitCode)
}

func TestSIGSTOPAndSIGCONTToggleFrozen(t *testing.T) {
	s := signal.NewState()
	s.Raise(defs.SIGSTOP)
	s.Step(func() signal.TrapSnapshot { return signal.TrapSnapshot{} })
	require.True(t, s.Frozen())

	s.Raise(defs.SIGCONT)
	s.Step(func() signal.TrapSnapshot { return signal.TrapSnapshot{} })
	require.False(t, s.Frozen())
}

func TestMaskedSignalIsNotDelivered(t *testing.T) {
	s := signal.NewState()
	s.SetAction(defs.SIGHUP, signal.Action{HandlerVA: 0x4000})
	s.SetMask(signal.Set(0).With(defs.SIGHUP))
	s.Raise(defs.SIGHUP)

	out := s.Step(func() signal.TrapSnapshot { return signal.TrapSnapshot{} })
	require.False(t, out.Deliver)
	require.False(t, out.Kill)
}
