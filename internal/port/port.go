// Package port isolates the platform contract the kernel is built
// against: critical sections, the deferred context-switch request, the
// tick source, and stack-frame initialization.
//
// On real hardware these primitives disable interrupts and poke
// interrupt-controller registers. Here they are hosted on the Go
// runtime: a single mutex stands in for "interrupts disabled", and the
// deferred-switch request becomes a non-blocking send on a capacity-1
// channel, collapsing any number of redundant requests into one
// pending bit exactly as a pending-exception register would.
package port

import (
	"sync"
	"time"
)

// Port is the platform contract the scheduler is built against. A real
// target would implement this over the vendor's interrupt controller
// and tick timer; SimPort implements it over goroutines and channels.
type Port interface {
	// CriticalEnter/CriticalLeave bracket a region in which all shared
	// kernel state may be touched without interference from the tick
	// source, other tasks' primitive calls, or ISR-equivalent calls.
	CriticalEnter()
	CriticalLeave()

	// RequestDeferredSwitch marks a context switch pending. Idempotent:
	// multiple requests before the dispatcher next runs collapse to one.
	RequestDeferredSwitch()

	// SwitchRequested is consumed by the scheduler's dispatcher; a
	// receive unblocks once RequestDeferredSwitch has been called at
	// least once since the last receive.
	SwitchRequested() <-chan struct{}

	// TickTimerInit starts a periodic tick source at hz, invoking fn on
	// every fire until the returned stop function is called.
	TickTimerInit(hz int, fn func()) (stop func())
}

// SimPort is the Port implementation used by this repository: a single
// mutex for the critical section and a time.Ticker for the tick source.
type SimPort struct {
	mu           sync.Mutex
	switchSignal chan struct{}
}

// NewSimPort returns a ready-to-use SimPort. switchSignal is buffered
// to depth 1, giving RequestDeferredSwitch its idempotent pending-bit
// behavior.
func NewSimPort() *SimPort {
	return &SimPort{switchSignal: make(chan struct{}, 1)}
}

func (p *SimPort) CriticalEnter() { p.mu.Lock() }
func (p *SimPort) CriticalLeave() { p.mu.Unlock() }

func (p *SimPort) RequestDeferredSwitch() {
	select {
	case p.switchSignal <- struct{}{}:
	default:
	}
}

// SwitchRequested is consumed by the scheduler's dispatcher goroutine;
// it blocks until a switch has been requested.
func (p *SimPort) SwitchRequested() <-chan struct{} {
	return p.switchSignal
}

func (p *SimPort) TickTimerInit(hz int, fn func()) (stop func()) {
	if hz <= 0 {
		hz = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}
