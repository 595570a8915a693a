package scratch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	a := New(0x1000, 256)
	assert.EqualValues(t, 256, a.FreeBytes())

	addr1, err := a.Alloc(64)
	require.NoError(t, err)
	assert.EqualValues(t, 192, a.FreeBytes())

	addr2, err := a.Alloc(32)
	require.NoError(t, err)
	assert.NotEqual(t, addr1, addr2)

	require.NoError(t, a.Free(addr1))
	require.NoError(t, a.Free(addr2))
	assert.EqualValues(t, 256, a.FreeBytes())
}

func TestAllocExhaustion(t *testing.T) {
	a := New(0, 16)
	_, err := a.Alloc(17)
	require.Error(t, err)
}

func TestAllocZeroSize(t *testing.T) {
	a := New(0, 16)
	_, err := a.Alloc(0)
	require.Error(t, err)
}

func TestFreeUnknownAddress(t *testing.T) {
	a := New(0, 16)
	err := a.Free(5)
	require.Error(t, err)
}

func TestCoalesceAcrossFrees(t *testing.T) {
	a := New(0, 48)
	a1, err := a.Alloc(16)
	require.NoError(t, err)
	a2, err := a.Alloc(16)
	require.NoError(t, err)
	a3, err := a.Alloc(16)
	require.NoError(t, err)

	require.NoError(t, a.Free(a1))
	require.NoError(t, a.Free(a3))
	require.NoError(t, a.Free(a2))

	// All three blocks are free again and must have coalesced into one,
	// since only a single contiguous free block can satisfy a
	// full-region allocation.
	assert.EqualValues(t, 48, a.FreeBytes())
	big, err := a.Alloc(48)
	require.NoError(t, err)
	assert.EqualValues(t, 0, big)
}

func TestBestFitPicksSmallestSufficientBlock(t *testing.T) {
	a := New(0, 100)
	// Allocate a 40-byte block at the top of the region and 10 bytes
	// just below it, then free the 40-byte block: the free list now
	// holds a 50-byte block at 0 and a 40-byte block at the hole, and
	// best fit must pick the smaller one.
	hole, err := a.Alloc(40)
	require.NoError(t, err)
	_, err = a.Alloc(10)
	require.NoError(t, err)
	require.NoError(t, a.Free(hole))

	addr, err := a.Alloc(10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, addr, hole)
	assert.Less(t, addr, hole+40)
}
