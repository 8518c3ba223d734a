package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTCBStartsReady(t *testing.T) {
	tcb := NewTCB(0, "t", 3, func(any) {}, nil)
	assert.Equal(t, READY, tcb.State)
	assert.Nil(t, tcb.WaitingOn, "expected WaitingOn nil on a fresh TCB")
}

func TestMarkDoneIsIdempotent(t *testing.T) {
	tcb := NewTCB(0, "t", 0, func(any) {}, nil)
	require.NotPanics(t, func() {
		tcb.MarkDone()
		tcb.MarkDone() // must not panic on double close
	})
	select {
	case <-tcb.Done():
	default:
		t.Fatal("expected Done channel closed")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		READY:     "READY",
		RUNNING:   "RUNNING",
		BLOCKED:   "BLOCKED",
		SUSPENDED: "SUSPENDED",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}
