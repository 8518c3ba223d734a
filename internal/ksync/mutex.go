package ksync

import (
	"flexkernel/internal/kernellog"
	"flexkernel/internal/sched"
	"flexkernel/internal/task"
)

// Mutex is a recursive mutex: an owner task (or none), a recursion
// depth, and a FIFO wait list. Priority inheritance is deliberately
// not implemented; a low-priority owner can delay a high-priority
// waiter for as long as medium-priority tasks keep the CPU.
type Mutex struct {
	sched *sched.Scheduler
	name  string

	owner task.ID // -1 when unowned
	depth int
	wait  []waiter
}

// NewMutex constructs an unowned recursive mutex.
func NewMutex(s *sched.Scheduler, name string) *Mutex {
	return &Mutex{sched: s, name: name, owner: -1}
}

func (m *Mutex) Name() string { return m.name }

// Lock acquires the mutex, blocking up to timeoutTicks under
// contention. A zero timeout is a non-blocking poll, the same timeout
// convention every primitive in this package uses. Re-locking by the
// owner increments the recursion depth and always succeeds.
func (m *Mutex) Lock(timeoutTicks uint32) bool {
	m.sched.Lock()

	self := m.sched.CurrentTaskIDLocked()

	if self != -1 && m.owner == self {
		m.depth++
		m.sched.Unlock()
		return true
	}
	if m.owner == -1 {
		m.owner = self
		m.depth = 1
		m.sched.Unlock()
		return true
	}

	if timeoutTicks == 0 {
		m.sched.Unlock()
		return false
	}

	m.wait = append(m.wait, waiter{id: self})
	granted := m.sched.BlockCurrent(m, timeoutTicks)
	if !granted {
		m.unlinkSelf(self)
	}
	m.sched.Unlock()

	if !granted {
		kernellog.Trace().Str("mutex", m.name).Msg("mutex_lock timeout")
	}
	return granted
}

func (m *Mutex) unlinkSelf(id task.ID) bool {
	for i, w := range m.wait {
		if w.id == id {
			m.wait = append(m.wait[:i], m.wait[i+1:]...)
			return true
		}
	}
	return false
}

// Unlock releases one level of recursion. Only the owner may unlock;
// any other caller is silently ignored. When the depth reaches zero
// and a waiter exists, ownership transfers to the head waiter in one
// step with no unowned window.
func (m *Mutex) Unlock() {
	m.sched.Lock()

	self := m.sched.CurrentTaskIDLocked()
	if self == -1 || m.owner != self {
		m.sched.Unlock()
		return
	}

	m.depth--
	if m.depth > 0 {
		m.sched.Unlock()
		return
	}

	if len(m.wait) > 0 {
		w := m.wait[0]
		m.wait = m.wait[1:]
		m.owner = w.id
		m.depth = 1
		m.sched.ResumeLocked(w.id)
		kernellog.Trace().Str("mutex", m.name).Msg("mutex ownership transferred")
		m.sched.PreemptLocked()
		m.sched.Unlock()
		return
	}

	m.owner = -1
	m.sched.Unlock()
}

// Owner returns the current owner task id, or -1 if unowned.
func (m *Mutex) Owner() task.ID {
	m.sched.Lock()
	defer m.sched.Unlock()
	return m.owner
}

// Depth returns the current recursion depth.
func (m *Mutex) Depth() int {
	m.sched.Lock()
	defer m.sched.Unlock()
	return m.depth
}
