// Package task defines the Task Control Block, the task states, and
// the wait-list link a blocked task carries back to the primitive it
// waits on.
package task

import (
	"fmt"

	"flexkernel/internal/port"
)

// State is one of the four task lifecycle states.
type State int

const (
	READY State = iota
	RUNNING
	BLOCKED
	SUSPENDED
)

func (s State) String() string {
	switch s {
	case READY:
		return "READY"
	case RUNNING:
		return "RUNNING"
	case BLOCKED:
		return "BLOCKED"
	case SUSPENDED:
		return "SUSPENDED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Forever is the sentinel timeout value meaning "block indefinitely".
// At the TCB level a blocked-timeout of 0 means indefinite; the
// primitive-facing call convention reserves a literal 0 for "do not
// block at all" instead, so callers pass Forever and BlockCurrent
// translates it to the internal zero representation.
const Forever uint32 = 0xFFFFFFFF

// ID identifies a task within the scheduler's task table.
type ID int

// Waitlist is any primitive that can hold a task in its wait list.
// Implemented by *ksync.Semaphore, *ksync.Mutex, and *queue.Queue. The
// scheduler never reaches into a primitive's internals - the waiter
// itself unlinks on timeout - so this stays a minimal interface rather
// than a concrete type import (task must not depend on ksync/queue).
type Waitlist interface {
	// Name identifies the primitive for logging.
	Name() string
}

// TCB is the per-task kernel record.
type TCB struct {
	ID       ID
	Name     string
	Priority int

	State State

	// BlockedTimeout is the remaining ticks before a BLOCKED task is
	// force-readied. 0 means "blocked indefinitely" internally; callers
	// use Forever, never 0, to request an indefinite wait.
	BlockedTimeout uint32

	// WaitingOn is the primitive this TCB is linked into, or nil.
	WaitingOn Waitlist

	// Entry and Arg record the task's entry point and argument, carried
	// for diagnostics and for the port's initial frame construction;
	// the hosted scheduler invokes Entry(Arg) directly on the task's
	// goroutine instead of restoring a register frame.
	Entry func(arg any)
	Arg   any

	// SP and Frame are the saved stack pointer and initial exception
	// frame the port lays down at creation. On hardware the context
	// switch restores SP and unwinds Frame into the registers; the
	// hosted build carries them as the inspectable record of that
	// contract.
	SP    uint32
	Frame *port.Frame

	// gate is signalled by the dispatcher to let exactly this task's
	// goroutine proceed; it is the hosted stand-in for "restore the
	// process stack pointer and return from exception". Unexported:
	// only internal/sched drives it.
	gate chan struct{}

	// done is closed once the task's entry function returns.
	done chan struct{}

	// parked reports whether the task's goroutine is waiting on gate.
	// The dispatcher only performs a switch once the outgoing task is
	// parked; an executing task hands over at its own safe points.
	// Guarded by the scheduler's critical section.
	parked bool
}

// NewTCB constructs a TCB in state READY with a fresh gate channel
// (buffered depth 1) used for scheduler handoff. A fresh task counts as
// parked: its goroutine waits on the gate before the first dispatch.
func NewTCB(id ID, name string, priority int, entry func(arg any), arg any) *TCB {
	return &TCB{
		ID:       id,
		Name:     name,
		Priority: priority,
		State:    READY,
		Entry:    entry,
		Arg:      arg,
		gate:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		parked:   true,
	}
}

// Gate returns the channel the task's goroutine waits on between
// dispatches.
func (t *TCB) Gate() chan struct{} { return t.gate }

// Parked reports whether the task's goroutine is waiting on its gate.
// Callers hold the scheduler's critical section.
func (t *TCB) Parked() bool { return t.parked }

// SetParked records whether the task's goroutine is about to wait on
// (or has just been released from) its gate. Callers hold the
// scheduler's critical section.
func (t *TCB) SetParked(v bool) { t.parked = v }

// Done returns the channel closed when the task function returns.
func (t *TCB) Done() chan struct{} { return t.done }

// MarkDone closes the done channel exactly once.
func (t *TCB) MarkDone() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}
