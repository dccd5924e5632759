// Package scanner walks the forked snapshot's stacks and candidate blocks,
// depositing reference marks into the shared dataset.
package scanner

import (
	"unsafe"

	"github.com/forkscan/internal/gc/dataset"
	"github.com/forkscan/internal/gc/mem"
	"github.com/forkscan/internal/gc/registry"
)

// addrMask strips the tag bit a stack or heap word may carry before the
// word is compared against candidate addresses.
const addrMask = ^uintptr(1)

// Scan performs the snapshot-side reachability pass: every registered
// thread's stack range is walked word by word, then every candidate block's
// own contents. Each word that names a candidate address increments that
// candidate's reference counter. Scanning block contents is what feeds the
// sweep's unreference cascade. Returns the number of bytes scanned.
//
// Scan runs in the forked child against frozen copy-on-write memory; only
// the refs array, which lives in the shared mapping, is written.
func Scan(ds *dataset.Dataset, threads []*registry.Thread) uint64 {
	if ds == nil || ds.Len() == 0 {
		return 0
	}

	var scanned uint64
	for _, th := range threads {
		scanned += scanRange(ds, th.StackLo, th.StackHi)
	}
	for i := 0; i < ds.Len(); i++ {
		scanned += scanBlock(ds, i)
	}
	return scanned
}

// scanRange walks the words of [lo, hi), marking candidate hits.
func scanRange(ds *dataset.Dataset, lo, hi uintptr) uint64 {
	for p := lo; p+mem.PtrSize <= hi; p += mem.PtrSize {
		w := *(*uintptr)(unsafe.Pointer(p)) & addrMask
		if !ds.Contains(w) {
			continue
		}
		if i, ok := ds.Lookup(w); ok {
			ds.IncRef(i)
		}
	}
	return uint64(hi - lo)
}

// scanBlock treats candidate block i as a potential root and scans its
// usable bytes.
func scanBlock(ds *dataset.Dataset, i int) uint64 {
	base := ds.AddrAt(i)
	size := uintptr(ds.AllocSzAt(i))
	scanRange(ds, base, base+size)
	return uint64(size)
}
