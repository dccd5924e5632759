// Package dataset holds candidate batches and the aggregated, fork-shared
// dataset a collection cycle operates on.
package dataset

// Batch is a single-producer contribution of retired addresses. Batches form
// an intrusive singly-linked list; ownership of the whole chain transfers to
// the collector at hand-off. The parallel refs/alloc-size arrays live on the
// aggregated Dataset, not here.
type Batch struct {
	next  *Batch
	addrs []uintptr
}

// NewBatch creates an empty batch with the given capacity.
func NewBatch(capacity int) *Batch {
	if capacity < 1 {
		capacity = 1
	}
	return &Batch{addrs: make([]uintptr, 0, capacity)}
}

// NewBatchFrom creates a batch owning the given address slice.
func NewBatchFrom(addrs []uintptr) *Batch {
	return &Batch{addrs: addrs}
}

// Append adds addr. It returns false when the batch is at capacity.
func (b *Batch) Append(addr uintptr) bool {
	if len(b.addrs) == cap(b.addrs) {
		return false
	}
	b.addrs = append(b.addrs, addr)
	return true
}

// Len returns the number of buffered addresses.
func (b *Batch) Len() int {
	return len(b.addrs)
}

// Cap returns the batch capacity.
func (b *Batch) Cap() int {
	return cap(b.addrs)
}

// Addrs returns the buffered addresses.
func (b *Batch) Addrs() []uintptr {
	return b.addrs
}

// Reset empties the batch, keeping its storage.
func (b *Batch) Reset() {
	b.addrs = b.addrs[:0]
}

// Next returns the next batch in the chain.
func (b *Batch) Next() *Batch {
	return b.next
}

// SetNext links n after b.
func (b *Batch) SetNext(n *Batch) {
	b.next = n
}

// Concat prepends head's chain before tail and returns the new head.
// Either argument may be nil.
func Concat(head, tail *Batch) *Batch {
	if head == nil {
		return tail
	}
	last := head
	for last.next != nil {
		last = last.next
	}
	last.next = tail
	return head
}

// ChainLen returns the total number of addresses in the chain rooted at b.
func ChainLen(b *Batch) int {
	n := 0
	for ; b != nil; b = b.next {
		n += len(b.addrs)
	}
	return n
}
