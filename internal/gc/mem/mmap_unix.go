//go:build unix

package mem

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/forkscan/pkg/errors"
)

// Region is a page-aligned anonymous mapping shared between the parent and
// any process forked from it.
type Region struct {
	data []byte
}

// MmapShared allocates a MAP_SHARED anonymous region of at least n bytes,
// rounded up to whole pages. Writes made by a forked child are visible to
// the parent.
func MmapShared(n int) (*Region, error) {
	if n <= 0 {
		return nil, errors.E(errors.Input, "region size must be positive", nil)
	}
	size := PageAlign(n, os.Getpagesize())
	data, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.E(errors.Mmap, "mmap shared region", err)
	}
	return &Region{data: data}, nil
}

// Bytes returns the mapped memory.
func (r *Region) Bytes() []byte {
	return r.data
}

// Len returns the mapped size in bytes.
func (r *Region) Len() int {
	return len(r.data)
}

// Unmap releases the mapping. The region must not be used afterwards.
func (r *Region) Unmap() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if err != nil {
		return errors.E(errors.Mmap, "munmap region", err)
	}
	return nil
}
