// Package sortutil provides the in-place sorting and compaction primitives
// used on candidate address arrays.
package sortutil

import "fmt"

// insertionThreshold is the span size below which quicksort falls back to
// insertion sort.
const insertionThreshold = 16

// Sort sorts a ascending in place using a hybrid quicksort with a midpoint
// pivot and an insertion-sort fallback for small spans.
func Sort(a []uintptr) {
	if len(a) < 2 {
		return
	}
	quicksort(a, 0, len(a)-1)
}

func quicksort(a []uintptr, lo, hi int) {
	for hi-lo > insertionThreshold {
		p := partition(a, lo, hi)
		// Recurse into the smaller side, loop on the larger.
		if p-lo < hi-p {
			quicksort(a, lo, p)
			lo = p + 1
		} else {
			quicksort(a, p+1, hi)
			hi = p
		}
	}
	insertionSort(a, lo, hi)
}

// partition uses the midpoint element as pivot (Hoare scheme) and returns
// the split index: all of a[lo..p] <= pivot <= all of a[p+1..hi].
func partition(a []uintptr, lo, hi int) int {
	pivot := a[lo+(hi-lo)/2]
	i := lo - 1
	j := hi + 1
	for {
		for {
			i++
			if a[i] >= pivot {
				break
			}
		}
		for {
			j--
			if a[j] <= pivot {
				break
			}
		}
		if i >= j {
			return j
		}
		a[i], a[j] = a[j], a[i]
	}
}

func insertionSort(a []uintptr, lo, hi int) {
	for i := lo + 1; i <= hi; i++ {
		v := a[i]
		j := i - 1
		for j >= lo && a[j] > v {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = v
	}
}

// CompactSorted removes duplicates from the sorted array a in place,
// preserving the relative order of distinct values, and returns the number
// of entries removed. The caller truncates to len(a)-savings.
func CompactSorted(a []uintptr) int {
	if len(a) < 2 {
		return 0
	}
	w := 1
	for r := 1; r < len(a); r++ {
		if a[r] != a[w-1] {
			a[w] = a[r]
			w++
		}
	}
	return len(a) - w
}

// AssertMonotonic panics unless a is strictly ascending. It is a debugging
// aid wired into test builds via the Debug flag.
func AssertMonotonic(a []uintptr) {
	if !Debug {
		return
	}
	for i := 1; i < len(a); i++ {
		if a[i-1] >= a[i] {
			panic(fmt.Sprintf("address array not monotonic at %d: %#x >= %#x", i, a[i-1], a[i]))
		}
	}
}

// Debug enables the monotonicity assertion. Tests flip it on.
var Debug = false
