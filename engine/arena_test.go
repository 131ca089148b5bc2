package engine

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_AllocAligned(t *testing.T) {
	a := NewArena(make([]byte, 256))

	b, err := a.Alloc("a", 3, 1)
	require.NoError(t, err)
	assert.Len(t, b, 3)

	f, err := a.AllocFloat32("f", 4)
	require.NoError(t, err)
	assert.Len(t, f, 4)
	assert.Zero(t, uintptr(unsafe.Pointer(&f[0]))%tensorAlign)

	allocs := a.Allocations()
	require.Len(t, allocs, 2)
	assert.Equal(t, "f", allocs[1].Name)
	assert.Equal(t, 16, allocs[1].Size)
	assert.Equal(t, a.Capacity()-a.Used(), a.Remaining())
}

func TestArena_Zeroes(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xaa
	}
	a := NewArena(buf)
	b, err := a.Alloc("z", 32, 1)
	require.NoError(t, err)
	for _, v := range b {
		require.Zero(t, v)
	}
}

func TestArena_Exhausted(t *testing.T) {
	a := NewArena(make([]byte, 64))
	_, err := a.Alloc("fits", 48, 1)
	require.NoError(t, err)

	_, err = a.Alloc("too big", 32, 1)
	assert.ErrorIs(t, err, ErrArenaExhausted)
	assert.Equal(t, 48, a.Used(), "failed allocation must not consume space")
}

func TestArena_InvalidRequests(t *testing.T) {
	a := NewArena(make([]byte, 64))
	_, err := a.Alloc("zero", 0, 1)
	assert.Error(t, err)
	_, err = a.Alloc("odd align", 4, 3)
	assert.Error(t, err)
}
