package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStackInitFrameContract pins the initial frame layout: the Thumb
// PSR bit, the task's PC, the process-stack EXC_RETURN magic in LR,
// and the task argument in R0, with every other register zeroed.
func TestStackInitFrameContract(t *testing.T) {
	fn := func(any) {}
	pc := FuncAddr(fn)
	arg := 42
	sp, frame := StackInit(pc, ArgWord(arg), 0x20010000)

	assert.Equal(t, thumbBit, frame.PSR)
	assert.Equal(t, pc, frame.PC)
	assert.Equal(t, excReturnPSP, frame.LR)
	assert.Equal(t, uint32(arg), frame.R0)
	assert.Zero(t, frame.R4)
	assert.Zero(t, frame.R11)
	assert.Zero(t, frame.R12)
	assert.Equal(t, uint32(0x20010000)-FrameWords*4, sp)
}

func TestFuncAddrNil(t *testing.T) {
	assert.Zero(t, FuncAddr(nil))
}

func TestArgWordKinds(t *testing.T) {
	assert.Zero(t, ArgWord(nil))
	assert.Equal(t, uint32(7), ArgWord(7))
	assert.Zero(t, ArgWord("unsupported"))
}
