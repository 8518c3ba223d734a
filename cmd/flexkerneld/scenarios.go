package main

import (
	"encoding/binary"
	"errors"
	"time"

	"flexkernel/internal/config"
	"flexkernel/internal/heap"
	"flexkernel/internal/kernellog"
	"flexkernel/internal/ksync"
	"flexkernel/internal/metrics"
	"flexkernel/internal/port"
	"flexkernel/internal/queue"
	"flexkernel/internal/sched"
	"flexkernel/internal/task"
)

// waitFor bounds how long a scenario will wait on its completion
// signal before declaring the run hung; the hosted model has no real
// tick-ISR deadline, so this stands in for "the board never came back".
const waitFor = 2 * time.Second

// pollMetrics refreshes c's gauges/counters from the live heap and
// queue every 20 ms until stop fires, giving cmd/flexkerneld
// serve a read-side view of the scenario it is running. Purely
// observational: nothing here feeds back into kernel-side decisions.
func pollMetrics(c *metrics.Collectors, s *sched.Scheduler, h *heap.Allocator, q *queue.Queue, stop <-chan struct{}) {
	if c == nil {
		return
	}
	var lastTicks uint32
	var lastOverflow, lastUnderflow uint64
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if s != nil {
				if ticks := s.Ticks(); ticks > lastTicks {
					c.Ticks.Add(float64(ticks - lastTicks))
					lastTicks = ticks
				}
				for state, n := range s.TaskCountByState() {
					c.TasksByState.WithLabelValues(state.String()).Set(float64(n))
				}
			}
			if h != nil {
				total, used, peak := h.Stats()
				c.HeapTotal.Set(float64(total))
				c.HeapUsed.Set(float64(used))
				c.HeapPeak.Set(float64(peak))
			}
			if q != nil {
				// CounterVec only grows via Add; publish the delta since
				// the last poll rather than the absolute count.
				if over := q.Overflow(); over > lastOverflow {
					c.QueueOverflow.WithLabelValues(q.Name()).Add(float64(over - lastOverflow))
					lastOverflow = over
				}
				if under := q.Underflow(); under > lastUnderflow {
					c.QueueUnderflow.WithLabelValues(q.Name()).Add(float64(under - lastUnderflow))
					lastUnderflow = under
				}
			}
		}
	}
}

// RunPriorityPreemption: a low priority task blocked on a semaphore
// acquires it once the higher priority signaler gives up the CPU.
func RunPriorityPreemption(cfg config.Config, mc *metrics.Collectors) error {
	p := port.NewSimPort()
	s := sched.New(p)
	sem := ksync.NewSemaphore(s, "s", 0)

	result := make(chan bool, 1)

	if _, err := s.CreateTask(func(any) {
		result <- sem.Wait(task.Forever)
	}, nil, 3, "A"); err != nil {
		return err
	}
	if _, err := s.CreateTask(func(any) {
		sem.Signal()
	}, nil, 5, "B"); err != nil {
		return err
	}

	if err := s.Start(cfg.TickPeriodHz()); err != nil {
		return err
	}
	defer s.Stop()

	stopPoll := make(chan struct{})
	go pollMetrics(mc, s, nil, nil, stopPoll)
	defer close(stopPoll)

	select {
	case ok := <-result:
		if !ok {
			return errors.New("scenario: task A did not acquire the semaphore")
		}
		kernellog.Info().Msg("priority preemption: B signaled, A acquired the semaphore")
		return nil
	case <-time.After(waitFor):
		return errors.New("scenario: timed out waiting for task A")
	}
}

// RunQueueHandoff: a producer blocks on send once the 2-capacity
// queue fills, and is handed off as the consumer drains it; all four
// items must arrive in order with no overflow.
func RunQueueHandoff(cfg config.Config, mc *metrics.Collectors) ([]int, error) {
	p := port.NewSimPort()
	s := sched.New(p)
	h := heap.New(cfg.HeapSizeBytes)

	q, err := queue.Create(s, h, "q", 4, 2)
	if err != nil {
		return nil, err
	}

	received := make([]int, 0, 4)
	done := make(chan struct{})

	if _, err := s.CreateTask(func(any) {
		for _, v := range []int{1, 2, 3, 4} {
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, uint32(v))
			if st := q.Send(buf, 100); st != queue.OK {
				kernellog.Warn().Str("status", st.String()).Int("value", v).Msg("producer send did not complete")
			}
		}
	}, nil, 4, "P"); err != nil {
		return nil, err
	}

	if _, err := s.CreateTask(func(any) {
		for i := 0; i < 4; i++ {
			buf := make([]byte, 4)
			if st := q.Receive(buf, 100); st == queue.OK {
				received = append(received, int(binary.LittleEndian.Uint32(buf)))
			}
		}
		close(done)
	}, nil, 2, "C"); err != nil {
		return nil, err
	}

	if err := s.Start(cfg.TickPeriodHz()); err != nil {
		return nil, err
	}
	defer s.Stop()

	stopPoll := make(chan struct{})
	go pollMetrics(mc, s, h, q, stopPoll)
	defer close(stopPoll)

	select {
	case <-done:
		if q.Overflow() != 0 {
			return received, errors.New("scenario: unexpected queue overflow")
		}
		return received, nil
	case <-time.After(waitFor):
		return received, errors.New("scenario: timed out waiting for consumer")
	}
}

// scenarioNames lists the CLI-facing scenario names.
var scenarioNames = []string{"priority-preemption", "queue-handoff"}
