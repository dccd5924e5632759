//go:build unix

package mem

import (
	"sync"
	"unsafe"

	"github.com/forkscan/pkg/errors"
)

const (
	arenaChunkSize = 4 << 20
	blockAlign     = 16
)

// Arena is a minimal block allocator serving embedders that have no malloc
// shim of their own (the stress workload and the tests). It hands out
// 16-byte-aligned blocks from large shared mappings, answers usable-size
// queries, and recycles freed blocks by size class.
type Arena struct {
	mu     sync.Mutex
	chunks []*Region
	cur    []byte
	off    int
	sizes  map[uintptr]int
	frees  map[int][]uintptr

	allocated int
	freed     int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		sizes: make(map[uintptr]int),
		frees: make(map[int][]uintptr),
	}
}

// Alloc returns the address of a zeroed block of at least n usable bytes.
func (a *Arena) Alloc(n int) (uintptr, error) {
	if n <= 0 {
		return 0, errors.E(errors.Input, "block size must be positive", nil)
	}
	size := (n + blockAlign - 1) &^ (blockAlign - 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	if list := a.frees[size]; len(list) > 0 {
		addr := list[len(list)-1]
		a.frees[size] = list[:len(list)-1]
		a.sizes[addr] = size
		a.allocated++
		zero(addr, size)
		return addr, nil
	}

	if a.cur == nil || a.off+size > len(a.cur) {
		chunkSize := arenaChunkSize
		if size > chunkSize {
			chunkSize = size
		}
		region, err := MmapShared(chunkSize)
		if err != nil {
			return 0, err
		}
		a.chunks = append(a.chunks, region)
		a.cur = region.Bytes()
		a.off = 0
	}

	addr := uintptr(unsafe.Pointer(&a.cur[a.off]))
	a.off += size
	a.sizes[addr] = size
	a.allocated++
	return addr, nil
}

// Free returns the block at addr to the arena. Freeing an address the arena
// does not own panics; it indicates a double free or a stray pointer.
func (a *Arena) Free(addr uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size, ok := a.sizes[addr]
	if !ok {
		panic("arena: free of unowned or already-freed address")
	}
	delete(a.sizes, addr)
	a.frees[size] = append(a.frees[size], addr)
	a.freed++
}

// UsableSize reports the usable byte size of the block at addr, or 0 when
// the address is not a live arena block.
func (a *Arena) UsableSize(addr uintptr) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sizes[addr]
}

// Live returns the number of currently allocated blocks.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated - a.freed
}

// Stats returns cumulative allocation and free counts.
func (a *Arena) Stats() (allocated, freed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated, a.freed
}

// Release unmaps all chunks. Outstanding block addresses become invalid.
func (a *Arena) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.chunks {
		_ = c.Unmap()
	}
	a.chunks = nil
	a.cur = nil
	a.sizes = make(map[uintptr]int)
	a.frees = make(map[int][]uintptr)
}

func zero(addr uintptr, n int) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
	for i := range b {
		b[i] = 0
	}
}
