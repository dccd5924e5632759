// Package barrier implements the quiescence protocol that brings every
// registered mutator to a checkpoint before the collector forks a snapshot.
package barrier

import (
	"runtime"
	"sync/atomic"

	"github.com/forkscan/internal/gc/registry"
)

// Barrier coordinates one quiescence round per collection cycle.
//
// The collector arms the barrier, delivers the checkpoint signal to every
// registered thread, and spins until the acknowledgment count reaches the
// number of threads signaled. Each mutator spills its registers to its own
// stack, increments the acknowledgment counter and parks until the epoch
// advances. The epoch is a counter rather than a flag so back-to-back
// cycles cannot race a stale release.
type Barrier struct {
	received atomic.Int64
	epoch    atomic.Uint64
	armed    atomic.Bool
}

// New creates a Barrier.
func New() *Barrier {
	return &Barrier{}
}

// Arm resets the acknowledgment count and opens a new quiescence round.
// Must be called before the checkpoint signal is delivered.
func (b *Barrier) Arm() {
	b.received.Store(0)
	b.armed.Store(true)
}

// Armed reports whether a quiescence round is in progress.
func (b *Barrier) Armed() bool {
	return b.armed.Load()
}

// Epoch returns the current release epoch.
func (b *Barrier) Epoch() uint64 {
	return b.epoch.Load()
}

// Received returns the number of acknowledgments this round.
func (b *Barrier) Received() int64 {
	return b.received.Load()
}

// WaitForSnapshot is the mutator-side checkpoint. It spills the register
// file onto the calling thread's stack so any pointer held only in a
// register is present in stack memory when the snapshot is taken, then
// acknowledges and parks until the parent releases the round.
func (b *Barrier) WaitForSnapshot() {
	var regs [spillWords]uintptr
	spillRegisters(&regs)

	e := b.epoch.Load()
	b.received.Add(1)
	for b.epoch.Load() == e {
		runtime.Gosched()
	}
	runtime.KeepAlive(&regs)
}

// Checkpoint acknowledges an armed round on behalf of th, at most once per
// epoch. Mutator glue calls this from its safepoints after the checkpoint
// signal lands. Returns true when the thread parked at the barrier.
func (b *Barrier) Checkpoint(th *registry.Thread) bool {
	if !b.armed.Load() {
		return false
	}
	e := b.epoch.Load()
	for {
		cur := th.AckEpoch.Load()
		if cur > e {
			return false // already acknowledged this round
		}
		if th.AckEpoch.CompareAndSwap(cur, e+1) {
			break
		}
	}
	b.WaitForSnapshot()
	return true
}

// AwaitQuiescent spins until sigCount acknowledgments have arrived. The
// caller may fork as soon as it returns: every mutator is parked with its
// registers spilled.
func (b *Barrier) AwaitQuiescent(sigCount int) {
	for b.received.Load() < int64(sigCount) {
		runtime.Gosched()
	}
}

// Release advances the epoch, unparking every mutator waiting at the
// checkpoint. Called by the parent after fork returns.
func (b *Barrier) Release() {
	b.armed.Store(false)
	b.epoch.Add(1)
}
