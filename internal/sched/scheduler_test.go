package sched_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexkernel/internal/ksync"
	"flexkernel/internal/port"
	"flexkernel/internal/sched"
	"flexkernel/internal/task"
)

// TestPriorityPreemption: the higher priority task B runs first,
// signals, and the lower priority waiter A acquires the semaphore once
// B gives up the CPU.
func TestPriorityPreemption(t *testing.T) {
	p := port.NewSimPort()
	s := sched.New(p)
	sem := ksync.NewSemaphore(s, "s", 0)

	result := make(chan bool, 1)
	_, err := s.CreateTask(func(any) {
		result <- sem.Wait(task.Forever)
	}, nil, 3, "A")
	require.NoError(t, err)

	_, err = s.CreateTask(func(any) {
		sem.Signal()
	}, nil, 5, "B")
	require.NoError(t, err)

	require.NoError(t, s.Start(1000))
	defer s.Stop()

	select {
	case ok := <-result:
		assert.True(t, ok, "task A did not acquire the semaphore")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task A")
	}
}

func TestCreateTaskCapacity(t *testing.T) {
	p := port.NewSimPort()
	s := sched.New(p)
	for i := 0; i < sched.MaxTasks; i++ {
		_, err := s.CreateTask(func(any) {}, nil, 0, "t")
		require.NoErrorf(t, err, "unexpected error at task %d", i)
	}
	_, err := s.CreateTask(func(any) {}, nil, 0, "overflow")
	assert.Equal(t, sched.ErrCapacity, err)
}

// TestTimeoutExpires exercises a semaphore wait with a short positive
// timeout and no signaler. The waiter is the only task, so the
// scheduler must re-dispatch it off the idle CPU once its timeout
// lapses.
func TestTimeoutExpires(t *testing.T) {
	p := port.NewSimPort()
	s := sched.New(p)
	sem := ksync.NewSemaphore(s, "s", 0)

	result := make(chan bool, 1)
	_, err := s.CreateTask(func(any) {
		result <- sem.Wait(5)
	}, nil, 1, "R")
	require.NoError(t, err)
	require.NoError(t, s.Start(1000))
	defer s.Stop()

	select {
	case ok := <-result:
		assert.False(t, ok, "expected timeout, got granted")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task R")
	}
}

// TestTaskCountByStateTracksBlocked matches the dispatcher keeping
// task.State current enough for a dashboard to poll: a task parked on
// a never-signaled semaphore must show up as BLOCKED.
func TestTaskCountByStateTracksBlocked(t *testing.T) {
	p := port.NewSimPort()
	s := sched.New(p)
	sem := ksync.NewSemaphore(s, "s", 0)

	blocked := make(chan struct{})
	_, err := s.CreateTask(func(any) {
		close(blocked)
		sem.Wait(task.Forever)
	}, nil, 1, "R")
	require.NoError(t, err)
	require.NoError(t, s.Start(1000))
	defer s.Stop()

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task to start")
	}
	time.Sleep(20 * time.Millisecond)

	counts := s.TaskCountByState()
	assert.Equal(t, 1, counts[task.BLOCKED])
}

// TestYieldRotatesEqualPriority exercises the cooperative rotation safe
// point: two equal-priority tasks alternating through Yield must
// interleave strictly.
func TestYieldRotatesEqualPriority(t *testing.T) {
	p := port.NewSimPort()
	s := sched.New(p)

	order := make(chan int, 4)
	for i := 0; i < 2; i++ {
		id := i
		_, err := s.CreateTask(func(any) {
			for n := 0; n < 2; n++ {
				order <- id
				s.Yield()
			}
		}, nil, 1, "T")
		require.NoError(t, err)
	}

	require.NoError(t, s.Start(1000))
	defer s.Stop()

	got := make([]int, 0, 4)
	for len(got) < 4 {
		select {
		case v := <-order:
			got = append(got, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out; got %v so far", got)
		}
	}
	assert.Equal(t, []int{0, 1, 0, 1}, got)
}
