package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocSplitAndStats(t *testing.T) {
	a := New(1024)
	p := a.Alloc(64)
	require.True(t, p.Valid())
	assert.Zero(t, p.Offset%align, "pointer not 4-aligned: %d", p.Offset)
	assert.GreaterOrEqual(t, p.Size, 64)

	total, used, peak := a.Stats()
	assert.Equal(t, 1024, total)
	assert.Equal(t, p.Size, used)
	assert.Equal(t, p.Size, peak)
}

// TestFreshHeapSplitAndCoalesce: after allocating and freeing two
// blocks from a fresh heap, coalescing must reassemble a single free
// block spanning the whole arena minus one header.
func TestFreshHeapSplitAndCoalesce(t *testing.T) {
	a := New(4096)
	p1 := a.Alloc(64)
	p2 := a.Alloc(64)
	require.True(t, p1.Valid())
	require.True(t, p2.Valid())

	a.Free(p1)
	a.Free(p2)

	assert.Equal(t, 4096-headerSize, a.FreeBytes())
	assert.Len(t, a.order, 1, "expected a single coalesced block")
}

func TestAllocExhaustion(t *testing.T) {
	a := New(64)
	p := a.Alloc(1024)
	assert.False(t, p.Valid(), "expected Nil on exhaustion")
}

func TestFreeNilIsNoop(t *testing.T) {
	a := New(128)
	assert.NotPanics(t, func() { a.Free(Nil) })
}

func TestFreeBytesAfterAllocFree(t *testing.T) {
	a := New(256)
	p := a.Alloc(32)
	used := 256 - a.FreeBytes()
	assert.Positive(t, used)

	a.Free(p)
	assert.Equal(t, 256-headerSize, a.FreeBytes())
}

// TestBytesAliasesArena matches the heap being the real backing store
// for an allocation (internal/queue relies on this): writes through
// the slice Bytes returns must be visible to anyone else holding the
// same Ptr, and the slice length must match the allocation's size.
func TestBytesAliasesArena(t *testing.T) {
	a := New(256)
	p := a.Alloc(16)
	require.True(t, p.Valid())

	b := a.Bytes(p)
	require.Len(t, b, p.Size)

	b[0] = 0xAB
	assert.Equal(t, byte(0xAB), a.Bytes(p)[0], "write through Bytes(p) should be visible on a second call")
}

func TestBytesInvalidPtr(t *testing.T) {
	a := New(64)
	assert.Nil(t, a.Bytes(Nil))
}
