// Package signal implements the per-process signal state and delivery
// rules of spec.md §4.13: a pending mask, a process-wide signal mask,
// a per-signal action table, and the save/restore dance a delivered
// handler uses around the interrupted trap context.
//
// Grounded on the teacher's bitmask idioms (defs device-id packing)
// generalized to a 32-bit signal set, since no example repo in the
// pack ships a signal subsystem to imitate directly.
package signal

import (
	"sync"

	"github.com/rvos/kernel/internal/defs"
)

// Set is a bitmask over signal numbers 0..31.
type Set uint32

// Has reports whether sig is a member of s.
func (s Set) Has(sig int) bool { return s&(1<<uint(sig)) != 0 }

// With returns s with sig added.
func (s Set) With(sig int) Set { return s | 1<<uint(sig) }

// Without returns s with sig removed.
func (s Set) Without(sig int) Set { return s &^ (1 << uint(sig)) }

// Action is a registered handler: its entry virtual address and the
// mask applied while it runs (signals in Mask are held pending for
// the duration, per spec.md §4.13's "nesting is disallowed").
type Action struct {
	HandlerVA uint64
	Mask      Set
}

// killSignals are handled in-kernel and never reach a registered
// handler (spec.md §4.13).
var killSignals = map[int]bool{
	defs.SIGKILL: true,
	defs.SIGSTOP: true,
	defs.SIGCONT: true,
	defs.SIGDEF:  true,
}

// fatalDefaults are the conventional exit codes used when a signal
// with no registered handler reaches its fatal-by-default case.
var fatalDefaults = map[int]int{
	defs.SIGSEGV: 139,
	defs.SIGILL:  132,
}

// TrapSnapshot is the subset of trap-context state a signal delivery
// saves and a sigreturn restores. It is defined here (rather than
// imported from internal/task) to keep signal free of a dependency on
// task; internal/trap converts to/from task's TrapContext.
type TrapSnapshot struct {
	Sepc uint64
	Regs [32]uint64
}

// State is one process's signal bookkeeping.
type State struct {
	mu sync.Mutex

	pending Set
	mask    Set
	actions [defs.NSIG]Action

	killed   bool
	frozen   bool
	handling int // signal currently being handled, or -1
	backup   *TrapSnapshot
}

// NewState returns signal state with no pending signals and no
// handlers registered.
func NewState() *State {
	return &State{handling: -1}
}

// Raise adds sig to the pending set.
func (s *State) Raise(sig int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = s.pending.With(sig)
}

// SetMask installs the process-wide signal mask.
func (s *State) SetMask(mask Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mask = mask
}

// SetAction registers act as sig's handler.
func (s *State) SetAction(sig int, act Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[sig] = act
}

// Outcome tells the trap dispatcher what to do after handling pending
// signals for one return-to-user point.
type Outcome struct {
	Kill       bool
	ExitCode   int
	Deliver    bool
	HandlerVA  uint64
	Signum     int
	HandlerArg uint64
}

// Step walks the pending set against the mask and in-kernel signals,
// applying SIGKILL/SIGSTOP/SIGCONT in place and returning at most one
// deliverable user handler to invoke, per spec.md §4.13. save is
// called with the trap snapshot to back up before sepc is overwritten;
// it is only invoked when Outcome.Deliver is true.
func (s *State) Step(save func() TrapSnapshot) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.killed {
		return Outcome{Kill: true, ExitCode: s.exitCodeLocked()}
	}

	for sig := 0; sig < defs.NSIG; sig++ {
		if !s.pending.Has(sig) {
			continue
		}
		if killSignals[sig] {
			s.pending = s.pending.Without(sig)
			switch sig {
			case defs.SIGKILL:
				s.killed = true
				return Outcome{Kill: true, ExitCode: 128 + defs.SIGKILL}
			case defs.SIGSTOP:
				s.frozen = true
			case defs.SIGCONT:
				s.frozen = false
			}
			continue
		}
		if s.handling != -1 {
			continue // nesting disallowed; held until sigreturn
		}
		if s.mask.Has(sig) {
			continue
		}
		act := s.actions[sig]
		if act.HandlerVA == 0 {
			if code, fatal := fatalDefaults[sig]; fatal {
				s.killed = true
				return Outcome{Kill: true, ExitCode: code}
			}
			s.pending = s.pending.Without(sig)
			continue
		}
		s.pending = s.pending.Without(sig)
		s.handling = sig
		snap := save()
		s.backup = &snap
		return Outcome{Deliver: true, HandlerVA: act.HandlerVA, Signum: sig}
	}
	return Outcome{}
}

func (s *State) exitCodeLocked() int {
	return 128 + defs.SIGKILL
}

// Sigreturn restores the trap snapshot saved by the in-flight handler
// and clears handling, letting a later signal be delivered.
func (s *State) Sigreturn() (TrapSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backup == nil {
		return TrapSnapshot{}, false
	}
	snap := *s.backup
	s.backup = nil
	s.handling = -1
	return snap, true
}

// Frozen reports whether the process is currently stopped by SIGSTOP.
func (s *State) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}
