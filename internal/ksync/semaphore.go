// Package ksync implements the counting semaphore and the recursive
// owner-tracked mutex, built directly on internal/sched's block/resume
// primitives. Wait lists are FIFO: push at the tail, pop at the head.
package ksync

import (
	"flexkernel/internal/kernellog"
	"flexkernel/internal/sched"
	"flexkernel/internal/task"
)

// waiter is one FIFO wait-list entry: the blocked task plus enough to
// identify it back in the scheduler's task table.
type waiter struct {
	id task.ID
}

// Semaphore is a non-negative counter with a FIFO list of blocked
// tasks.
type Semaphore struct {
	sched *sched.Scheduler
	name  string

	count int
	wait  []waiter
}

// NewSemaphore constructs a semaphore with the given initial count.
func NewSemaphore(s *sched.Scheduler, name string, initial int) *Semaphore {
	return &Semaphore{sched: s, name: name, count: initial}
}

func (sem *Semaphore) Name() string { return sem.name }

// Wait acquires one unit of the semaphore, blocking up to timeoutTicks
// when the count is zero. timeoutTicks==0 is a non-blocking poll;
// task.Forever blocks indefinitely. Returns true iff the semaphore was
// acquired.
func (sem *Semaphore) Wait(timeoutTicks uint32) bool {
	sem.sched.Lock()

	if sem.count > 0 {
		sem.count--
		sem.sched.Unlock()
		return true
	}

	if timeoutTicks == 0 {
		sem.sched.Unlock()
		return false
	}

	id := sem.sched.CurrentTaskIDLocked()
	sem.wait = append(sem.wait, waiter{id: id})
	granted := sem.sched.BlockCurrent(sem, timeoutTicks)
	if !granted {
		sem.unlinkSelf(id)
	}
	sem.sched.Unlock()

	if !granted {
		kernellog.Trace().Str("sem", sem.name).Msg("sem_wait timeout")
	}
	return granted
}

// unlinkSelf removes id from the wait list if still present: a timeout
// wakeup leaves the entry in place, and the waiter itself splices out
// before reporting failure. Returns true if id was found and removed.
func (sem *Semaphore) unlinkSelf(id task.ID) bool {
	for i, w := range sem.wait {
		if w.id == id {
			sem.wait = append(sem.wait[:i], sem.wait[i+1:]...)
			return true
		}
	}
	return false
}

// Signal releases one unit: a direct transfer to the head waiter if
// any exists (the count is not incremented in that case); otherwise
// the count increments. Signaling a waiter that outranks the caller
// preempts the caller before Signal returns.
func (sem *Semaphore) Signal() {
	sem.sched.Lock()

	if len(sem.wait) > 0 {
		w := sem.wait[0]
		sem.wait = sem.wait[1:]
		sem.sched.ResumeLocked(w.id)
		kernellog.Trace().Str("sem", sem.name).Msg("sem_signal direct transfer")
		sem.sched.PreemptLocked()
		sem.sched.Unlock()
		return
	}

	sem.count++
	sem.sched.Unlock()
}

// Count returns the current count, for tests and diagnostics.
func (sem *Semaphore) Count() int {
	sem.sched.Lock()
	defer sem.sched.Unlock()
	return sem.count
}
