//go:build unix

package dataset

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAggregate(t *testing.T, head *Batch) *Dataset {
	t.Helper()
	d, err := Aggregate(head, func(uintptr) int { return 64 }, os.Getpagesize())
	require.NoError(t, err)
	require.NotNil(t, d)
	t.Cleanup(func() { _ = d.Release() })
	return d
}

func TestAggregate_SortsAndDedupes(t *testing.T) {
	b1 := NewBatchFrom([]uintptr{0x5000, 0x1000, 0x3000})
	b2 := NewBatchFrom([]uintptr{0x2000, 0x3000, 0x4000})
	head := Concat(b1, b2)

	d := mustAggregate(t, head)

	require.Equal(t, 5, d.Len())
	want := []uintptr{0x1000, 0x2000, 0x3000, 0x4000, 0x5000}
	for i, a := range want {
		assert.Equal(t, a, d.AddrAt(i))
		assert.Equal(t, int64(0), d.RefAt(i), "refs must be zero at scan start")
		assert.False(t, d.Collected(i))
		assert.Equal(t, int64(64), d.AllocSzAt(i))
	}
	assert.Equal(t, uintptr(0x1000), d.MinVal())
	assert.Equal(t, uintptr(0x5000), d.MaxVal())
}

func TestAggregate_Empty(t *testing.T) {
	d, err := Aggregate(nil, func(uintptr) int { return 64 }, os.Getpagesize())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestAggregate_SingleEntry(t *testing.T) {
	d := mustAggregate(t, NewBatchFrom([]uintptr{0x1000}))

	assert.Equal(t, 1, d.Len())
	assert.Equal(t, uintptr(0x1000), d.MinVal())
	assert.Equal(t, uintptr(0x1000), d.MaxVal())

	i, ok := d.Lookup(0x1000)
	require.True(t, ok)
	assert.Equal(t, 0, i)
}

func TestAggregate_BadSizeQuery(t *testing.T) {
	_, err := Aggregate(NewBatchFrom([]uintptr{0x1000}), func(uintptr) int { return 0 }, os.Getpagesize())
	assert.Error(t, err)
}

func TestLookup_TwoLevel(t *testing.T) {
	// Enough entries to span several minimap slots.
	pageSize := os.Getpagesize()
	stride := pageSize / 8
	n := stride*3 + 17
	addrs := make([]uintptr, n)
	for i := range addrs {
		addrs[i] = uintptr(0x100000 + i*16)
	}
	d := mustAggregate(t, NewBatchFrom(addrs))
	require.Equal(t, n, d.Len())

	for _, i := range []int{0, 1, stride - 1, stride, stride + 1, 2 * stride, n - 1} {
		got, ok := d.Lookup(uintptr(0x100000 + i*16))
		require.True(t, ok, "index %d", i)
		assert.Equal(t, i, got)
	}

	_, ok := d.Lookup(0x100008) // between entries
	assert.False(t, ok)
	_, ok = d.Lookup(0x0fffff) // below min
	assert.False(t, ok)
	_, ok = d.Lookup(uintptr(0x100000 + n*16)) // above max
	assert.False(t, ok)
}

func TestClaim_ExactlyOnce(t *testing.T) {
	d := mustAggregate(t, NewBatchFrom([]uintptr{0x1000, 0x2000}))

	assert.True(t, d.Claim(0))
	assert.False(t, d.Claim(0))
	assert.True(t, d.Collected(0))
	// Masked accessor still returns the real address.
	assert.Equal(t, uintptr(0x1000), d.AddrAt(0))
	// Lookup still finds the claimed entry by masked value.
	i, ok := d.Lookup(0x1000)
	require.True(t, ok)
	assert.Equal(t, 0, i)
}

func TestRefCounting(t *testing.T) {
	d := mustAggregate(t, NewBatchFrom([]uintptr{0x1000}))

	d.IncRef(0)
	d.IncRef(0)
	assert.Equal(t, int64(2), d.RefAt(0))
	assert.Equal(t, int64(1), d.DecRef(0))
	assert.Equal(t, int64(0), d.DecRef(0))
	assert.Panics(t, func() { d.DecRef(0) })
}

func TestCompact(t *testing.T) {
	d := mustAggregate(t, NewBatchFrom([]uintptr{0x1000, 0x2000, 0x3000, 0x4000}))
	d.IncRef(1)
	d.IncRef(3)

	require.True(t, d.Claim(0))
	require.True(t, d.Claim(2))

	savings := d.Compact()

	assert.Equal(t, 2, savings)
	require.Equal(t, 2, d.Len())
	assert.Equal(t, uintptr(0x2000), d.AddrAt(0))
	assert.Equal(t, uintptr(0x4000), d.AddrAt(1))
	assert.Equal(t, int64(1), d.RefAt(0))
	assert.Equal(t, int64(1), d.RefAt(1))
	assert.False(t, d.Collected(0))
	assert.False(t, d.Collected(1))
	assert.Equal(t, uintptr(0x2000), d.MinVal())
	assert.Equal(t, uintptr(0x4000), d.MaxVal())

	// Survivors remain findable after the index rebuild.
	i, ok := d.Lookup(0x4000)
	require.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = d.Lookup(0x1000)
	assert.False(t, ok)
}

func TestCompact_All(t *testing.T) {
	d := mustAggregate(t, NewBatchFrom([]uintptr{0x1000, 0x2000}))
	require.True(t, d.Claim(0))
	require.True(t, d.Claim(1))

	assert.Equal(t, 2, d.Compact())
	assert.Equal(t, 0, d.Len())
	assert.False(t, d.Contains(0x1000))
}

func TestBatch_Chain(t *testing.T) {
	b1 := NewBatch(4)
	require.True(t, b1.Append(0x10))
	b2 := NewBatch(2)
	require.True(t, b2.Append(0x20))
	require.True(t, b2.Append(0x30))
	assert.False(t, b2.Append(0x40))

	head := Concat(b1, b2)
	assert.Equal(t, 3, ChainLen(head))
	assert.Same(t, b2, head.Next())

	assert.Same(t, b2, Concat(nil, b2))

	b1.Reset()
	assert.Equal(t, 0, b1.Len())
	assert.Equal(t, 4, b1.Cap())
}
