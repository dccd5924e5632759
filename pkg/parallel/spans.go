// Package parallel runs disjoint index ranges of the candidate array across
// a bounded set of workers. It exists for the sweep, whose work is always
// "apply this function to every index in [0, n)" with no results to gather
// and no per-task errors to report.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Span is a half-open index range [Lo, Hi).
type Span struct {
	Lo, Hi int
}

// Len returns the number of indexes in the span.
func (s Span) Len() int {
	return s.Hi - s.Lo
}

// Partition splits [0, n) into spans of at most size indexes. The last span
// takes the remainder. n <= 0 yields nil; size <= 0 yields a single span.
func Partition(n, size int) []Span {
	if n <= 0 {
		return nil
	}
	if size <= 0 || size > n {
		size = n
	}
	spans := make([]Span, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		spans = append(spans, Span{Lo: lo, Hi: hi})
	}
	return spans
}

// Each applies fn to every span using at most workers goroutines and
// returns when all spans are done. Workers claim spans off a shared atomic
// cursor, so one worker stuck on a reference-heavy range does not strand
// the spans behind it. Cancelling ctx stops the claiming of new spans;
// spans already claimed run to completion, matching the sweep's rule that
// workers join at pass boundaries, never mid-range.
func Each(ctx context.Context, spans []Span, workers int, fn func(Span)) {
	if len(spans) == 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(spans) {
		workers = len(spans)
	}
	if workers == 1 {
		for _, s := range spans {
			if ctx.Err() != nil {
				return
			}
			fn(s)
		}
		return
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				i := int(cursor.Add(1)) - 1
				if i >= len(spans) {
					return
				}
				fn(spans[i])
			}
		}()
	}
	wg.Wait()
}
