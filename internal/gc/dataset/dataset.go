package dataset

import (
	"sort"
	"sync/atomic"
	"unsafe"

	"github.com/forkscan/internal/gc/mem"
	"github.com/forkscan/internal/gc/sortutil"
	"github.com/forkscan/pkg/errors"
)

// collectedBit is the low address bit claimed by the sweep. Block addresses
// are at least word-aligned, so the bit is always free. The claim CAS on the
// address slot is the single linearization point for "this block will be
// freed"; a separate flag array would break that.
const collectedBit = uintptr(1)

// ptrMask strips the collected bit from an address slot value.
const ptrMask = ^collectedBit

// Dataset is the aggregated, scan-ready candidate set for one cycle. All
// four arrays live in a single page-aligned MAP_SHARED region so reference
// marks written by the forked child are observed by the parent:
//
//	addrs[n]   sorted ascending, no duplicates, low bit = collected flag
//	minimap[m] every (pagesize/ptrsize)-th address, two-level search index
//	refs[n]    signed reference counters, scanner increments, sweep decrements
//	allocSz[n] usable byte size of each block
type Dataset struct {
	region *mem.Region

	addrs   []uintptr
	minimap []uintptr
	refs    []int64
	allocSz []int64

	n      int // live entries; compaction shrinks this
	mmLen  int
	stride int

	minVal uintptr
	maxVal uintptr
}

// Aggregate merges the batch chain rooted at head into one Dataset. The
// addresses are sorted, deduplicated and sized via sizeOf. A nil dataset is
// returned when the chain holds no addresses.
func Aggregate(head *Batch, sizeOf mem.SizeFunc, pageSize int) (*Dataset, error) {
	total := ChainLen(head)
	if total == 0 {
		return nil, nil
	}
	if pageSize < mem.PtrSize {
		return nil, errors.E(errors.Input, "page size too small", nil)
	}

	stride := pageSize / mem.PtrSize
	mmCap := (total + stride - 1) / stride

	addrsBytes := mem.PageAlign(total*mem.PtrSize, pageSize)
	mmBytes := mem.PageAlign(mmCap*mem.PtrSize, pageSize)
	wordBytes := mem.PageAlign(total*8, pageSize)

	region, err := mem.MmapShared(addrsBytes + mmBytes + 2*wordBytes)
	if err != nil {
		return nil, err
	}

	buf := region.Bytes()
	d := &Dataset{
		region:  region,
		addrs:   sliceAt[uintptr](buf, 0, total),
		minimap: sliceAt[uintptr](buf, addrsBytes, mmCap),
		refs:    sliceAt[int64](buf, addrsBytes+mmBytes, total),
		allocSz: sliceAt[int64](buf, addrsBytes+mmBytes+wordBytes, total),
		stride:  stride,
	}

	i := 0
	for b := head; b != nil; b = b.Next() {
		i += copy(d.addrs[i:], b.Addrs())
	}

	sortutil.Sort(d.addrs)
	savings := sortutil.CompactSorted(d.addrs)
	d.n = total - savings
	sortutil.AssertMonotonic(d.addrs[:d.n])

	for i := 0; i < d.n; i++ {
		sz := sizeOf(d.addrs[i])
		if sz <= 0 {
			_ = region.Unmap()
			return nil, errors.E(errors.Input, "usable-size query returned non-positive size", nil)
		}
		d.allocSz[i] = int64(sz)
	}

	d.rebuildIndex()
	return d, nil
}

func sliceAt[T any](buf []byte, off, n int) []T {
	return unsafe.Slice((*T)(unsafe.Pointer(&buf[off])), n)
}

// rebuildIndex recomputes the minimap and cached bounds over the live
// entries. Called after aggregation and after each compaction.
func (d *Dataset) rebuildIndex() {
	if d.n == 0 {
		d.mmLen = 0
		d.minVal, d.maxVal = 0, 0
		return
	}
	d.minVal = d.addrs[0] & ptrMask
	d.maxVal = d.addrs[d.n-1] & ptrMask
	d.mmLen = (d.n + d.stride - 1) / d.stride
	for k := 0; k < d.mmLen; k++ {
		d.minimap[k] = d.addrs[k*d.stride] & ptrMask
	}
}

// Len returns the number of live entries.
func (d *Dataset) Len() int {
	return d.n
}

// MinVal returns the smallest candidate address.
func (d *Dataset) MinVal() uintptr {
	return d.minVal
}

// MaxVal returns the largest candidate address.
func (d *Dataset) MaxVal() uintptr {
	return d.maxVal
}

// Contains reports whether w falls within the candidate address bounds.
func (d *Dataset) Contains(w uintptr) bool {
	return d.n > 0 && w >= d.minVal && w <= d.maxVal
}

// AddrAt returns the block address at index i with the collected bit
// stripped. Safe under concurrent claims.
func (d *Dataset) AddrAt(i int) uintptr {
	return atomic.LoadUintptr(&d.addrs[i]) & ptrMask
}

// Collected reports whether the entry at i has been claimed for freeing.
func (d *Dataset) Collected(i int) bool {
	return atomic.LoadUintptr(&d.addrs[i])&collectedBit != 0
}

// Claim atomically sets the collected bit on entry i. It returns true for
// exactly one caller; the winner owns the free.
func (d *Dataset) Claim(i int) bool {
	for {
		a := atomic.LoadUintptr(&d.addrs[i])
		if a&collectedBit != 0 {
			return false
		}
		if atomic.CompareAndSwapUintptr(&d.addrs[i], a, a|collectedBit) {
			return true
		}
	}
}

// RefAt returns the reference counter of entry i.
func (d *Dataset) RefAt(i int) int64 {
	return atomic.LoadInt64(&d.refs[i])
}

// IncRef increments the reference counter of entry i.
func (d *Dataset) IncRef(i int) {
	atomic.AddInt64(&d.refs[i], 1)
}

// DecRef decrements the reference counter of entry i and returns the new
// value. Counters never go negative; a negative result is a bug in the
// sweep discipline.
func (d *Dataset) DecRef(i int) int64 {
	v := atomic.AddInt64(&d.refs[i], -1)
	if v < 0 {
		panic("dataset: reference count went negative")
	}
	return v
}

// AllocSzAt returns the usable byte size of the block at index i.
func (d *Dataset) AllocSzAt(i int) int64 {
	return d.allocSz[i]
}

// Lookup finds the index of block address w (which must carry no collected
// bit) using the minimap and a bounded binary search.
func (d *Dataset) Lookup(w uintptr) (int, bool) {
	if !d.Contains(w) {
		return 0, false
	}

	// Largest minimap slot not above w selects the search window.
	k := sort.Search(d.mmLen, func(k int) bool { return d.minimap[k] > w }) - 1
	if k < 0 {
		return 0, false
	}
	lo := k * d.stride
	hi := lo + d.stride
	if hi > d.n {
		hi = d.n
	}

	i := lo + sort.Search(hi-lo, func(j int) bool {
		return atomic.LoadUintptr(&d.addrs[lo+j])&ptrMask >= w
	})
	if i < hi && atomic.LoadUintptr(&d.addrs[i])&ptrMask == w {
		return i, true
	}
	return 0, false
}

// IsRef reports whether entry j still names address w. Used by the sweep to
// revalidate a hit before decrementing.
func (d *Dataset) IsRef(j int, w uintptr) bool {
	return atomic.LoadUintptr(&d.addrs[j])&ptrMask == w
}

// Compact drops entries whose collected bit is set, left-packing the three
// parallel arrays, and returns the number of entries removed. Must only be
// called once sweep workers have joined.
func (d *Dataset) Compact() int {
	w := 0
	for r := 0; r < d.n; r++ {
		a := d.addrs[r]
		if a&collectedBit != 0 {
			continue
		}
		d.addrs[w] = a
		d.refs[w] = d.refs[r]
		d.allocSz[w] = d.allocSz[r]
		w++
	}
	savings := d.n - w
	d.n = w
	d.rebuildIndex()
	return savings
}

// Release unmaps the backing region. The dataset must not be used
// afterwards. Release is deferred until the sweep's fixpoint loop has
// finished; unmapping mid-cycle would pull the arrays out from under the
// workers.
func (d *Dataset) Release() error {
	if d.region == nil {
		return nil
	}
	err := d.region.Unmap()
	d.region = nil
	d.n = 0
	return err
}
