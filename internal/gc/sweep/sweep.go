// Package sweep implements the parallel reference-count sweep that decides
// which candidates of an aggregated dataset are freed.
package sweep

import (
	"context"
	"sync/atomic"
	"unsafe"

	"github.com/forkscan/internal/gc/dataset"
	"github.com/forkscan/internal/gc/mem"
	"github.com/forkscan/pkg/parallel"
)

const (
	// DefaultMaxWorkers caps the number of parallel sweep workers.
	DefaultMaxWorkers = 80

	// DefaultAddrsPerWorker is the approximate index range handed to each
	// worker.
	DefaultAddrsPerWorker = 128 * 1024

	// DefaultUnrefDepth bounds recursion of the unreference cascade. The
	// cap prevents stack blowup on pathological chains; the fixpoint loop
	// picks up whatever the cap left unresolved.
	DefaultUnrefDepth = 30
)

// addrMask strips the collected/tag bit from a scanned word.
const addrMask = ^uintptr(1)

// Config tunes a Sweeper.
type Config struct {
	MaxWorkers     int
	AddrsPerWorker int
	UnrefDepth     int
}

// DefaultConfig returns the standard sweep tuning.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:     DefaultMaxWorkers,
		AddrsPerWorker: DefaultAddrsPerWorker,
		UnrefDepth:     DefaultUnrefDepth,
	}
}

// Result summarizes one full sweep to fixpoint.
type Result struct {
	// Freed is the total number of blocks released.
	Freed int
	// Passes is the number of cascade passes executed.
	Passes int
	// CycleFreed counts blocks released by the cycle-resolution step,
	// included in Freed.
	CycleFreed int
}

// Sweeper runs the parallel sweep over one dataset.
//
// Workers own disjoint index ranges and synchronize only through the atomic
// reference counters and the claim CAS on the address slots; the claim is
// what guarantees at most one free per block. A block's outgoing references
// are deducted only after its own counter reached zero and its claim CAS was
// won, so no block is processed twice.
type Sweeper struct {
	ds   *dataset.Dataset
	free mem.FreeFunc
	cfg  Config
}

// New creates a Sweeper releasing blocks through free.
func New(ds *dataset.Dataset, free mem.FreeFunc, cfg Config) *Sweeper {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.AddrsPerWorker <= 0 {
		cfg.AddrsPerWorker = DefaultAddrsPerWorker
	}
	if cfg.UnrefDepth < 0 {
		cfg.UnrefDepth = DefaultUnrefDepth
	}
	return &Sweeper{ds: ds, free: free, cfg: cfg}
}

// Run sweeps to fixpoint: cascade passes repeat until a pass frees nothing
// or the dataset is empty, then unreferenced cycles among the survivors are
// resolved. Entries left in the dataset afterwards are the cycle's
// survivors.
func (s *Sweeper) Run(ctx context.Context) Result {
	var res Result
	for s.ds.Len() > 0 {
		savings := s.pass(ctx)
		res.Passes++
		res.Freed += savings
		if savings == 0 {
			break
		}
	}
	if s.ds.Len() > 0 {
		res.CycleFreed = s.resolveCycles()
		res.Freed += res.CycleFreed
	}
	return res
}

// pass runs one parallel cascade pass and compacts the dataset, returning
// the number of entries freed.
func (s *Sweeper) pass(ctx context.Context) int {
	n := s.ds.Len()

	chunk := s.cfg.AddrsPerWorker
	if minChunk := (n + s.cfg.MaxWorkers - 1) / s.cfg.MaxWorkers; chunk < minChunk {
		chunk = minChunk
	}

	parallel.Each(ctx, parallel.Partition(n, chunk), s.cfg.MaxWorkers, func(sp parallel.Span) {
		for i := sp.Lo; i < sp.Hi; i++ {
			if s.ds.Collected(i) || s.ds.RefAt(i) != 0 {
				continue
			}
			if s.ds.Claim(i) {
				s.unrefBlock(i, s.cfg.UnrefDepth)
			}
		}
	})

	return s.ds.Compact()
}

// unrefBlock deducts the references held by claimed block i, recursing into
// blocks whose counters reach zero, then frees the block. Scanned words are
// zeroed so a stale pointer cannot resurrect a freed block in a later pass.
func (s *Sweeper) unrefBlock(i int, depth int) {
	base := s.ds.AddrAt(i)
	words := int(s.ds.AllocSzAt(i)) / mem.PtrSize

	for k := 0; k < words; k++ {
		slot := (*uintptr)(unsafe.Pointer(base + uintptr(k)*mem.PtrSize))
		w := atomic.LoadUintptr(slot) & addrMask
		if w == 0 || !s.ds.Contains(w) {
			continue
		}
		atomic.StoreUintptr(slot, 0)

		j, ok := s.ds.Lookup(w)
		if !ok || !s.ds.IsRef(j, w) {
			continue
		}
		if s.ds.DecRef(j) == 0 && depth > 0 && s.ds.Claim(j) {
			s.unrefBlock(j, depth-1)
		}
	}

	s.free(base)
}

// resolveCycles releases groups of surviving candidates that only reference
// each other. A survivor's counter holds stack hits plus hits from other
// survivors' contents; recomputing the latter as an in-degree exposes the
// externally rooted set, and anything unreachable from it is garbage. This
// is what lets two retired blocks that point at each other be freed even
// though neither counter ever reaches zero.
func (s *Sweeper) resolveCycles() int {
	n := s.ds.Len()
	if n == 0 {
		return 0
	}

	indegree := make([]int64, n)
	edges := make([][]int32, n)
	for i := 0; i < n; i++ {
		base := s.ds.AddrAt(i)
		words := int(s.ds.AllocSzAt(i)) / mem.PtrSize
		for k := 0; k < words; k++ {
			w := *(*uintptr)(unsafe.Pointer(base + uintptr(k)*mem.PtrSize)) & addrMask
			if w == 0 || !s.ds.Contains(w) {
				continue
			}
			if j, ok := s.ds.Lookup(w); ok {
				indegree[j]++
				edges[i] = append(edges[i], int32(j))
			}
		}
	}

	// Externally rooted survivors and everything they reach stay alive.
	keep := make([]bool, n)
	queue := make([]int32, 0, n)
	for j := 0; j < n; j++ {
		if s.ds.RefAt(j) > indegree[j] {
			keep[j] = true
			queue = append(queue, int32(j))
		}
	}
	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, t := range edges[cur] {
			if !keep[t] {
				keep[t] = true
				queue = append(queue, t)
			}
		}
	}

	freed := 0
	for i := 0; i < n; i++ {
		if !keep[i] && s.ds.Claim(i) {
			s.free(s.ds.AddrAt(i))
			freed++
		}
	}
	if freed > 0 {
		s.ds.Compact()
	}
	return freed
}
