package collector

import (
	"os"

	"github.com/forkscan/internal/gc/dataset"
	"github.com/forkscan/internal/gc/registry"
	"github.com/forkscan/internal/gc/scanner"
)

// NewInProcess creates a collector whose snapshot phase scans live memory
// in the collector's own process instead of a forked child. Mutators must
// be quiesced at the barrier exactly as in the fork path, so the scan still
// observes a consistent view. Used by the tests and as a debugging mode on
// hosts where forking the runtime is not an option.
func NewInProcess(opts Options) *Collector {
	signal := func(threads []*registry.Thread) (int, error) {
		// In-process mutators reach the checkpoint via safepoint polling;
		// there is no signal to deliver.
		return len(threads), nil
	}
	return newCollector(opts, inProcessSnapshot, signal, nil, os.Getpagesize())
}

func inProcessSnapshot(c *Collector, ds *dataset.Dataset, threads []*registry.Thread) (uint64, int, error) {
	scanned := scanner.Scan(ds, threads)
	c.bar.Release()
	return scanned, 0, nil
}
