//go:build unix

package mem

import (
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapShared_RoundsToPage(t *testing.T) {
	r, err := MmapShared(1)
	require.NoError(t, err)
	defer r.Unmap()

	assert.Equal(t, os.Getpagesize(), r.Len())
	// Mapping must be writable and zeroed.
	r.Bytes()[0] = 0xff
	assert.Equal(t, byte(0), r.Bytes()[r.Len()-1])
}

func TestMmapShared_BadSize(t *testing.T) {
	_, err := MmapShared(0)
	assert.Error(t, err)
}

func TestPageAlign(t *testing.T) {
	assert.Equal(t, 4096, PageAlign(1, 4096))
	assert.Equal(t, 4096, PageAlign(4096, 4096))
	assert.Equal(t, 8192, PageAlign(4097, 4096))
}

func TestArena_AllocFree(t *testing.T) {
	a := NewArena()
	defer a.Release()

	addr, err := a.Alloc(64)
	require.NoError(t, err)
	require.NotZero(t, addr)
	assert.Zero(t, addr%16)
	assert.Equal(t, 64, a.UsableSize(addr))
	assert.Equal(t, 1, a.Live())

	// Block memory is usable.
	words := unsafe.Slice((*uintptr)(unsafe.Pointer(addr)), 8)
	words[0] = 0xdeadbeef
	assert.Equal(t, uintptr(0xdeadbeef), words[0])

	a.Free(addr)
	assert.Equal(t, 0, a.Live())
	assert.Equal(t, 0, a.UsableSize(addr))
}

func TestArena_ReuseIsZeroed(t *testing.T) {
	a := NewArena()
	defer a.Release()

	addr, err := a.Alloc(32)
	require.NoError(t, err)
	words := unsafe.Slice((*uintptr)(unsafe.Pointer(addr)), 4)
	words[0] = 0x1234
	a.Free(addr)

	addr2, err := a.Alloc(32)
	require.NoError(t, err)
	assert.Equal(t, addr, addr2)
	words2 := unsafe.Slice((*uintptr)(unsafe.Pointer(addr2)), 4)
	assert.Zero(t, words2[0])
}

func TestArena_DoubleFreePanics(t *testing.T) {
	a := NewArena()
	defer a.Release()

	addr, err := a.Alloc(16)
	require.NoError(t, err)
	a.Free(addr)

	assert.Panics(t, func() { a.Free(addr) })
}

func TestArena_LargeBlock(t *testing.T) {
	a := NewArena()
	defer a.Release()

	addr, err := a.Alloc(8 << 20)
	require.NoError(t, err)
	assert.Equal(t, 8<<20, a.UsableSize(addr))
}
