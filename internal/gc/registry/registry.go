// Package registry tracks registered mutator threads and their stack ranges.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/forkscan/internal/gc/queue"
	"github.com/forkscan/pkg/errors"
)

// Thread is one registered mutator. The stack range [StackLo, StackHi) is
// what the child scanner walks; Queue is the thread's retirement ring.
type Thread struct {
	StackLo uintptr
	StackHi uintptr

	// TID is the OS thread id used for checkpoint signal delivery.
	TID int

	// OwnsStack marks stacks allocated by the runtime on the thread's
	// behalf. The registry only records the flag; Unregister does not
	// release the stack.
	OwnsStack bool

	Queue *queue.Ring

	// refs keeps the record alive while a scan walks the stack range.
	refs atomic.Int32

	// AckEpoch is the last barrier epoch this thread acknowledged.
	AckEpoch atomic.Uint64
}

// Acquire takes a reference keeping the thread record (and its stack range)
// alive across a scan.
func (t *Thread) Acquire() {
	t.refs.Add(1)
}

// Release drops a reference taken with Acquire.
func (t *Thread) Release() {
	if t.refs.Add(-1) < 0 {
		panic("registry: thread reference count went negative")
	}
}

// Refs returns the current reference count.
func (t *Thread) Refs() int {
	return int(t.refs.Load())
}

// Registry is the set of registered threads. Add and remove take the mutex;
// scans take per-thread references so records stay valid without holding it.
type Registry struct {
	mu      sync.Mutex
	threads map[*Thread]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{threads: make(map[*Thread]struct{})}
}

// Register adds a thread record. The stack range must be non-empty and
// word-aligned.
func (r *Registry) Register(t *Thread) error {
	if t.StackLo >= t.StackHi {
		return errors.E(errors.Registry, "empty stack range", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[t]; ok {
		return errors.E(errors.Registry, "thread already registered", nil)
	}
	r.threads[t] = struct{}{}
	return nil
}

// Unregister removes a thread record. A thread exiting while its stack is
// being scanned is a fatal condition: the stack memory may be reclaimed
// mid-scan. The error is surfaced so the runtime glue can abort.
func (r *Registry) Unregister(t *Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[t]; !ok {
		return errors.E(errors.Registry, "thread not registered", nil)
	}
	if t.refs.Load() != 0 {
		return errors.E(errors.Registry, "thread exiting while stack is being scanned", nil)
	}
	delete(r.threads, t)
	return nil
}

// LookupByAddr returns the registered thread whose stack range contains
// addr, with a reference taken, or nil.
func (r *Registry) LookupByAddr(addr uintptr) *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t := range r.threads {
		if addr >= t.StackLo && addr < t.StackHi {
			t.Acquire()
			return t
		}
	}
	return nil
}

// Len returns the number of registered threads.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}

// Snapshot acquires a reference on every registered thread and returns the
// records. The caller must invoke the release function when the scan is
// done.
func (r *Registry) Snapshot() ([]*Thread, func()) {
	r.mu.Lock()
	threads := make([]*Thread, 0, len(r.threads))
	for t := range r.threads {
		t.Acquire()
		threads = append(threads, t)
	}
	r.mu.Unlock()

	return threads, func() {
		for _, t := range threads {
			t.Release()
		}
	}
}
