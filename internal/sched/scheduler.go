// Package sched implements a fixed-capacity priority-preemptive
// scheduler hosted on the Go runtime: one goroutine per task plus a
// dispatcher goroutine that performs the deferred context switch.
//
// The hosted model keeps a single-CPU discipline: exactly one task
// goroutine executes kernel-visible code at a time. A task gives up the
// CPU only at safe points (BlockCurrent, Yield, PreemptLocked at the
// end of a primitive operation, or entry-function return), where it
// parks on its gate channel; the dispatcher hands the CPU to the next
// READY task only once the previous runner is parked. This is the
// goroutine analogue of a deferred-switch exception firing when the
// CPU would otherwise return to thread mode.
package sched

import (
	"errors"
	"sync"

	"flexkernel/internal/kernellog"
	"flexkernel/internal/port"
	"flexkernel/internal/task"
)

// ErrCapacity is returned by CreateTask once MaxTasks TCBs exist.
var ErrCapacity = errors.New("sched: task table full")

// MaxTasks is the fixed task-table capacity.
const MaxTasks = 32

// StackWords is the per-task stack size in machine words; each task's
// simulated stack region is carved at a fixed offset in the modeled
// SRAM address space.
const StackWords = 1024

// sramBase is the bottom of the modeled SRAM region task stacks are
// laid out in, matching the Cortex-M SRAM window.
const sramBase uint32 = 0x20000000

// stackTop returns the initial (highest) stack address for task id;
// stacks grow down from there.
func stackTop(id task.ID) uint32 {
	return sramBase + uint32(id+1)*StackWords*4
}

// Scheduler owns the task table, the tick counter, and the dispatcher.
// All mutable state is guarded by the port's critical section.
type Scheduler struct {
	p port.Port

	tasks   [MaxTasks]*task.TCB
	count   int
	running int // index into tasks of the RUNNING task, -1 before Start
	ticks   uint32

	started bool

	wg sync.WaitGroup

	stopDispatch chan struct{}
	stopTick     func()
}

// New constructs a Scheduler bound to p.
func New(p port.Port) *Scheduler {
	return &Scheduler{p: p, running: -1}
}

// CreateTask appends a TCB at the next free slot in state READY. fn is
// invoked as fn(arg) on the task's own goroutine once the scheduler
// dispatches it for the first time; this is the hosted stand-in for
// restoring the initial exception frame onto a fresh stack.
func (s *Scheduler) CreateTask(fn func(arg any), arg any, priority int, name string) (task.ID, error) {
	s.p.CriticalEnter()

	if s.count >= MaxTasks {
		s.p.CriticalLeave()
		return -1, ErrCapacity
	}
	id := task.ID(s.count)
	t := task.NewTCB(id, name, priority, fn, arg)
	t.SP, t.Frame = port.StackInit(port.FuncAddr(fn), port.ArgWord(arg), stackTop(id))
	s.tasks[id] = t
	s.count++
	started := s.started
	s.p.CriticalLeave()

	kernellog.Debug().Str("task", name).Int("priority", priority).Msg("task created")

	go s.runTask(t)
	if started {
		s.p.RequestDeferredSwitch()
	}
	return id, nil
}

// runTask is the task's goroutine body: wait for the scheduler to open
// the gate, run the entry function once, then park forever. A returning
// entry function leaves the task SUSPENDED and never re-selected; the
// task model assumes long-running tasks.
func (s *Scheduler) runTask(t *task.TCB) {
	<-t.Gate()
	s.p.CriticalEnter()
	t.SetParked(false)
	s.p.CriticalLeave()

	t.Entry(t.Arg)
	t.MarkDone()

	s.p.CriticalEnter()
	t.State = task.SUSPENDED
	t.SetParked(true)
	s.p.CriticalLeave()
	s.p.RequestDeferredSwitch()
	<-make(chan struct{}) // this goroutine's task never runs again
}

// selectReadyLocked picks the READY task with the strictly greatest
// priority. The scan starts one slot past the current runner and wraps,
// so equal-priority ties fall to the next task after the runner in
// table order, which is what rotates peers under the tick. Must be
// called with the critical section held. Returns -1 if no task is
// READY.
func (s *Scheduler) selectReadyLocked() int {
	if s.count == 0 {
		return -1
	}
	start := 0
	if s.running != -1 {
		start = (s.running + 1) % s.count
	}
	best := -1
	for k := 0; k < s.count; k++ {
		i := (start + k) % s.count
		t := s.tasks[i]
		if t.State != task.READY {
			continue
		}
		if best == -1 || t.Priority > s.tasks[best].Priority {
			best = i
		}
	}
	return best
}

// dispatchLocked performs one scheduling decision on behalf of the
// deferred-switch handler. It refuses to switch while the current
// runner still occupies the CPU (its goroutine is executing between
// safe points, or a gate token is already in flight to it); the
// handoff then happens at the runner's next safe point instead.
// Returns the task whose gate must be opened, or nil. Caller holds the
// critical section; the gate send happens outside it.
func (s *Scheduler) dispatchLocked() *task.TCB {
	if s.running != -1 {
		r := s.tasks[s.running]
		if r.State == task.RUNNING || !r.Parked() {
			return nil
		}
	}
	next := s.selectReadyLocked()
	if next == -1 {
		return nil // idle: stay on the current task
	}
	t := s.tasks[next]
	t.State = task.RUNNING
	s.running = next
	return t
}

// Start requires at least one task, selects the highest-priority READY
// task, marks it RUNNING, and starts the tick timer at hz. The initial
// gate send is the first-task start: a one-way transfer into the first
// task with no outgoing state to save.
func (s *Scheduler) Start(hz int) error {
	s.p.CriticalEnter()
	if s.count == 0 {
		s.p.CriticalLeave()
		return errors.New("sched: no tasks registered")
	}
	if s.started {
		s.p.CriticalLeave()
		return errors.New("sched: already started")
	}
	s.started = true
	first := s.selectReadyLocked()
	firstTask := s.tasks[first]
	firstTask.State = task.RUNNING
	s.running = first
	s.p.CriticalLeave()

	s.stopDispatch = make(chan struct{})
	s.wg.Add(1)
	go s.dispatchLoop()

	s.stopTick = s.p.TickTimerInit(hz, s.Tick)

	kernellog.Debug().Str("task", firstTask.Name).Msg("first task dispatch")
	firstTask.Gate() <- struct{}{}
	return nil
}

// Stop halts the tick source and the dispatcher. Only used by test
// harnesses and cmd/flexkerneld's scenario runner for clean shutdown;
// on real hardware the kernel never stops.
func (s *Scheduler) Stop() {
	if s.stopTick != nil {
		s.stopTick()
	}
	if s.stopDispatch != nil {
		close(s.stopDispatch)
	}
	s.wg.Wait()
}

// dispatchLoop is the deferred-switch exception handler's hosted
// analogue: it wakes on every coalesced switch request, re-runs the
// scheduling decision under the critical section, and opens the
// winning task's gate outside the lock.
func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	requests := s.p.SwitchRequested()
	for {
		select {
		case <-s.stopDispatch:
			return
		case <-requests:
		}

		s.p.CriticalEnter()
		next := s.dispatchLocked()
		s.p.CriticalLeave()

		if next != nil {
			select {
			case next.Gate() <- struct{}{}:
			default:
				// A stale token already sits in the gate; the parked
				// task discards it and re-parks, so dropping this one
				// is safe - the pending token delivers the dispatch.
			}
		}
	}
}

// Tick advances the tick counter, decrements positive blocked-timeouts,
// force-readies any TCB whose timeout reaches zero, then requests a
// scheduling decision. Called from the tick source, which on hardware
// is the tick ISR.
func (s *Scheduler) Tick() {
	s.p.CriticalEnter()
	s.ticks++

	for i := 0; i < s.count; i++ {
		t := s.tasks[i]
		if t.State != task.BLOCKED || t.BlockedTimeout == 0 {
			continue
		}
		t.BlockedTimeout--
		if t.BlockedTimeout == 0 {
			// A timeout wakeup leaves WaitingOn set so the waiter can
			// tell a natural timeout from a granted wakeup (which
			// clears WaitingOn via Resume); the waiter unlinks itself
			// from the primitive's wait list before reporting failure.
			t.State = task.READY
		}
	}

	// Equal-priority round-robin: demote the running task to READY when
	// a peer of at least its priority is waiting for the CPU. The
	// demoted runner hands over at its next safe point.
	if s.running != -1 {
		r := s.tasks[s.running]
		if r.State == task.RUNNING && s.rotationDueLocked(r) {
			r.State = task.READY
		}
	}
	s.p.CriticalLeave()

	s.p.RequestDeferredSwitch()
}

// rotationDueLocked reports whether a READY task of at least r's
// priority exists, i.e. whether the tick should rotate r out.
func (s *Scheduler) rotationDueLocked(r *task.TCB) bool {
	for i := 0; i < s.count; i++ {
		t := s.tasks[i]
		if t != r && t.State == task.READY && t.Priority >= r.Priority {
			return true
		}
	}
	return false
}

// BlockCurrent is the common blocking path of the synchronization
// primitives: must be called by the current task under a critical
// section already held by the caller. timeoutTicks is task.Forever for
// an indefinite wait, translated here to the TCB's internal
// zero-timeout convention; any other value counts down in Tick.
//
// BlockCurrent itself drops the critical section to let the dispatcher
// run, parks the calling goroutine on its gate, and re-acquires the
// critical section before returning - so callers observe the same
// locking discipline as if BlockCurrent were a single atomic step.
//
// The returned bool is granted: true iff the task was woken by Resume
// (which clears WaitingOn), false iff the tick fired first and
// WaitingOn still points at waitingOn. The caller still owns splicing
// itself out of the primitive's own wait-list structure in the timeout
// case.
func (s *Scheduler) BlockCurrent(waitingOn task.Waitlist, timeoutTicks uint32) bool {
	t := s.tasks[s.running]
	t.State = task.BLOCKED
	t.WaitingOn = waitingOn
	if timeoutTicks == task.Forever {
		t.BlockedTimeout = 0
	} else {
		t.BlockedTimeout = timeoutTicks
	}
	t.SetParked(true)
	s.p.RequestDeferredSwitch()

	s.parkUntilRunning(t)
	return t.WaitingOn == nil
}

// parkUntilRunning releases the critical section, waits on t's gate
// until the dispatcher has genuinely handed t the CPU (state RUNNING),
// discarding stale tokens, then clears the parked flag and returns with
// the critical section re-acquired.
func (s *Scheduler) parkUntilRunning(t *task.TCB) {
	s.p.CriticalLeave()
	for {
		<-t.Gate()
		s.p.CriticalEnter()
		if t.State == task.RUNNING {
			break
		}
		// Stale token: the tick demoted us between the dispatcher's
		// token send and our wakeup, or a duplicate dispatch raced.
		// Park again until a real dispatch arrives.
		s.p.CriticalLeave()
	}
	t.SetParked(false)
}

// Resume is idempotent: it moves a BLOCKED task to READY, clears its
// timeout, and requests a deferred switch. Safe to call from
// ISR-equivalent contexts.
func (s *Scheduler) Resume(id task.ID) {
	s.p.CriticalEnter()
	s.ResumeLocked(id)
	s.p.CriticalLeave()
}

// ResumeLocked is Resume for callers already inside the critical
// section (primitive wake paths, which must ready a waiter in the same
// critical section as their own state change). A task the tick already
// force-readied but that has not yet unlinked itself is granted
// anyway: the wake wins the race against the timeout it was about to
// report, so a signal arriving in that window is not lost.
func (s *Scheduler) ResumeLocked(id task.ID) {
	t := s.tasks[id]
	switch {
	case t.State == task.BLOCKED:
		t.State = task.READY
		t.WaitingOn = nil
		t.BlockedTimeout = 0
	case t.State == task.READY && t.WaitingOn != nil:
		t.WaitingOn = nil
		t.BlockedTimeout = 0
	default:
		return
	}
	s.p.RequestDeferredSwitch()
}

// PreemptLocked is the preemption point at the end of a primitive
// operation. If the caller has been demoted by the tick, or a READY
// task now outranks it, the caller hands the CPU over right here: it
// parks until re-dispatched. Must be called from task context with the
// critical section held; returns with it held. A call from non-task
// context (before Start, or while every task is parked) is a no-op.
func (s *Scheduler) PreemptLocked() {
	if s.running == -1 {
		return
	}
	t := s.tasks[s.running]
	if t.Parked() {
		return
	}
	if t.State == task.RUNNING && !s.outrankedLocked(t) {
		return
	}
	if t.State == task.RUNNING {
		t.State = task.READY
	}
	t.SetParked(true)
	s.p.RequestDeferredSwitch()
	s.parkUntilRunning(t)
}

// outrankedLocked reports whether a READY task with strictly greater
// priority than t exists.
func (s *Scheduler) outrankedLocked(t *task.TCB) bool {
	for i := 0; i < s.count; i++ {
		o := s.tasks[i]
		if o != t && o.State == task.READY && o.Priority > t.Priority {
			return true
		}
	}
	return false
}

// Yield is a cooperative safe point for tasks that want the scheduler
// to rotate equal-priority peers without otherwise blocking, the same
// role runtime.Gosched plays for Go's own scheduler. The caller is
// demoted to READY and parks until re-selected.
func (s *Scheduler) Yield() {
	s.p.CriticalEnter()
	if s.running == -1 {
		s.p.CriticalLeave()
		return
	}
	t := s.tasks[s.running]
	if t.State == task.RUNNING {
		t.State = task.READY
	}
	t.SetParked(true)
	s.p.RequestDeferredSwitch()
	s.parkUntilRunning(t)
	s.p.CriticalLeave()
}

// CurrentTaskID returns the currently RUNNING task's id, or -1 before
// Start.
func (s *Scheduler) CurrentTaskID() task.ID {
	s.p.CriticalEnter()
	defer s.p.CriticalLeave()
	return s.CurrentTaskIDLocked()
}

// CurrentTaskIDLocked is CurrentTaskID for primitive operations already
// holding the critical section.
func (s *Scheduler) CurrentTaskIDLocked() task.ID {
	if s.running == -1 {
		return -1
	}
	return s.tasks[s.running].ID
}

// TaskState returns id's current state, for tests and diagnostics.
func (s *Scheduler) TaskState(id task.ID) task.State {
	s.p.CriticalEnter()
	defer s.p.CriticalLeave()
	return s.tasks[id].State
}

// Ticks returns the monotonic tick counter.
func (s *Scheduler) Ticks() uint32 {
	s.p.CriticalEnter()
	defer s.p.CriticalLeave()
	return s.ticks
}

// TaskCountByState tallies the registered tasks by state, for
// diagnostics and the metrics harness (cmd/flexkerneld serve).
func (s *Scheduler) TaskCountByState() map[task.State]int {
	s.p.CriticalEnter()
	defer s.p.CriticalLeave()
	counts := make(map[task.State]int, 4)
	for i := 0; i < s.count; i++ {
		counts[s.tasks[i].State]++
	}
	return counts
}

// Lock/Unlock expose the scheduler's critical section to the
// synchronization primitives, which must perform their own state
// changes (wait-list splice, count decrement) in the same critical
// section as any call into BlockCurrent/ResumeLocked; all shared
// kernel state lives under this one lock.
func (s *Scheduler) Lock()   { s.p.CriticalEnter() }
func (s *Scheduler) Unlock() { s.p.CriticalLeave() }
