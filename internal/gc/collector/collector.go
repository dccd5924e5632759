// Package collector orchestrates collection cycles: batch hand-off,
// aggregation, the quiescence barrier, the snapshot scan and the sweep.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/forkscan/internal/gc/barrier"
	"github.com/forkscan/internal/gc/dataset"
	"github.com/forkscan/internal/gc/mem"
	"github.com/forkscan/internal/gc/queue"
	"github.com/forkscan/internal/gc/registry"
	"github.com/forkscan/internal/gc/sweep"
	"github.com/forkscan/internal/repository"
	"github.com/forkscan/internal/stats"
	"github.com/forkscan/internal/storage"
	"github.com/forkscan/pkg/collections"
	"github.com/forkscan/pkg/errors"
	"github.com/forkscan/pkg/telemetry"
	"github.com/forkscan/pkg/utils"
)

// snapshotFunc captures a consistent view of memory and returns the bytes
// scanned plus the snapshot child's pid (0 when no process was forked). It
// must release the barrier once the snapshot exists, whether or not the
// scan succeeds.
type snapshotFunc func(c *Collector, ds *dataset.Dataset, threads []*registry.Thread) (uint64, int, error)

// signalFunc delivers the checkpoint signal and returns the number of
// acknowledgments to await.
type signalFunc func(threads []*registry.Thread) (int, error)

// killFunc terminates an outstanding snapshot child.
type killFunc func(pid int)

// Options configures a Collector.
type Options struct {
	// SizeOf answers usable-size queries; supplied by the allocator shim.
	SizeOf mem.SizeFunc
	// Free releases a block back to the allocator.
	Free mem.FreeFunc
	// QueueCapacity is the per-thread retirement ring capacity.
	QueueCapacity int
	// PageSize overrides the system page size (0 = default).
	PageSize int
	// Sweep tunes the reference-count sweep.
	Sweep sweep.Config
	// Logger receives cycle diagnostics. Defaults to the global logger.
	Logger utils.Logger
	// Repo, when set, persists per-cycle history records.
	Repo repository.CycleRepository
	// Archive, when set, receives a JSON report per cycle.
	Archive storage.Storage
}

// Collector owns all process-wide collection state: the incoming batch
// chain, the carry-over of survivors, the barrier, the registry and the
// outstanding snapshot child.
type Collector struct {
	mu       sync.Mutex
	cond     *sync.Cond
	incoming *dataset.Batch
	stopped  bool

	carry *dataset.Batch

	bar *barrier.Barrier
	reg *registry.Registry

	sizeOf   mem.SizeFunc
	free     mem.FreeFunc
	queueCap int
	pageSize int
	sweepCfg sweep.Config

	snapshot snapshotFunc
	signal   signalFunc
	kill     killFunc
	childPid atomic.Int64

	cycle atomic.Int64
	st    *stats.Stats
	timer *utils.CycleTimer
	log   utils.Logger

	repo    repository.CycleRepository
	archive storage.Storage

	stash *Stash
}

func newCollector(opts Options, snapshot snapshotFunc, signal signalFunc, kill killFunc, pageSize int) *Collector {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1024
	}
	if opts.Logger == nil {
		opts.Logger = utils.Default()
	}
	if opts.PageSize > 0 {
		pageSize = opts.PageSize
	}
	c := &Collector{
		bar:      barrier.New(),
		reg:      registry.New(),
		sizeOf:   opts.SizeOf,
		free:     opts.Free,
		queueCap: opts.QueueCapacity,
		pageSize: pageSize,
		sweepCfg: opts.Sweep,
		snapshot: snapshot,
		signal:   signal,
		kill:     kill,
		st:       stats.New(),
		timer:    utils.NewCycleTimer(),
		log:      opts.Logger,
		repo:     opts.Repo,
		archive:  opts.Archive,
		stash:    NewStash(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Registry exposes the thread registry.
func (c *Collector) Registry() *registry.Registry {
	return c.reg
}

// Barrier exposes the quiescence barrier.
func (c *Collector) Barrier() *barrier.Barrier {
	return c.bar
}

// Stash exposes the deferred-free stash surfaced to mutators.
func (c *Collector) Stash() *Stash {
	return c.stash
}

// Stats exposes the accumulated statistics.
func (c *Collector) Stats() *stats.Stats {
	return c.st
}

// RegisterThread registers a mutator with the given stack range and OS
// thread id, allocating its retirement ring.
func (c *Collector) RegisterThread(stackLo, stackHi uintptr, tid int) (*registry.Thread, error) {
	th := &registry.Thread{
		StackLo: stackLo,
		StackHi: stackHi,
		TID:     tid,
		Queue:   queue.NewRing(c.queueCap),
	}
	if err := c.reg.Register(th); err != nil {
		return nil, err
	}
	return th, nil
}

// UnregisterThread hands off the thread's remaining retirements and removes
// it from the registry.
func (c *Collector) UnregisterThread(th *registry.Thread) error {
	if th.Queue != nil && th.Queue.Len() > 0 {
		c.HandOff(th)
	}
	return c.reg.Unregister(th)
}

// Retire records a retired pointer on the calling thread's ring. A full
// ring triggers a synchronous hand-off so no record is ever dropped. The
// call doubles as a barrier safepoint.
func (c *Collector) Retire(th *registry.Thread, addr uintptr) {
	c.bar.Checkpoint(th)
	for !th.Queue.Push(addr) {
		c.HandOff(th)
	}
}

// HandOff detaches the thread's buffered retirements into a batch and
// enqueues it for collection.
func (c *Collector) HandOff(th *registry.Thread) {
	addrs := th.Queue.Drain(nil)
	if len(addrs) == 0 {
		return
	}
	c.InitiateCollection(dataset.NewBatchFrom(addrs))
}

// InitiateCollection appends a producer batch to the incoming chain and
// wakes the collector.
func (c *Collector) InitiateCollection(b *dataset.Batch) {
	if b == nil || b.Len() == 0 {
		return
	}
	c.mu.Lock()
	c.incoming = dataset.Concat(c.incoming, b)
	c.mu.Unlock()
	c.cond.Signal()
}

// WaitForSnapshot is the mutator-side checkpoint; see barrier.Barrier.
func (c *Collector) WaitForSnapshot() {
	c.bar.WaitForSnapshot()
}

// DetachIncoming removes and returns the pending incoming chain. Used by
// embedders that drive collection synchronously via CollectNow.
func (c *Collector) DetachIncoming() *dataset.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	head := c.incoming
	c.incoming = nil
	return head
}

// Run is the collector thread's main loop: wait for work, detach the whole
// incoming chain, prepend the carry-over and run one cycle. Returns when
// Stop is called or ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	for {
		c.mu.Lock()
		for c.incoming == nil && !c.stopped {
			c.cond.Wait()
		}
		if c.stopped && c.incoming == nil {
			c.mu.Unlock()
			return
		}
		head := c.incoming
		c.incoming = nil
		c.mu.Unlock()

		head = dataset.Concat(c.carry, head)
		c.carry = nil

		if err := c.runCycle(ctx, head); err != nil {
			// No recoverable errors cross the collector boundary; only the
			// advisory subsystems are allowed to limp.
			if errors.IsFatal(err) {
				c.log.Error("collection cycle failed: %v", err)
				panic(err)
			}
			c.log.Warn("collection cycle degraded: %v", err)
		}
	}
}

// Stop wakes the loop and makes it exit once the pending chain drains.
func (c *Collector) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// CollectNow runs a single cycle synchronously over the given chain plus
// any carry-over. Used by embedders that drive collection themselves.
func (c *Collector) CollectNow(ctx context.Context, head *dataset.Batch) error {
	head = dataset.Concat(c.carry, head)
	c.carry = nil
	if head == nil {
		return nil
	}
	return c.runCycle(ctx, head)
}

// runCycle executes one full collection cycle over the batch chain.
func (c *Collector) runCycle(ctx context.Context, head *dataset.Batch) error {
	cycleNo := c.cycle.Add(1)
	ctx, span := telemetry.StartCycle(ctx, cycleNo)
	defer span.End()

	c.timer.Reset()

	c.timer.StartPhase("aggregate")
	ds, err := dataset.Aggregate(head, c.sizeOf, c.pageSize)
	c.timer.EndPhase("aggregate")
	if err != nil {
		return err
	}
	if ds == nil {
		return nil
	}
	defer func() { _ = ds.Release() }()

	candidates := ds.Len()

	threads, releaseThreads := c.reg.Snapshot()

	c.timer.StartPhase("barrier")
	c.bar.Arm()
	sigCount, err := c.signal(threads)
	if err != nil {
		c.bar.Release()
		releaseThreads()
		return err
	}
	c.bar.AwaitQuiescent(sigCount)
	c.timer.EndPhase("barrier")

	c.timer.StartPhase("scan")
	bytesScanned, childPid, err := c.snapshot(c, ds, threads)
	c.timer.EndPhase("scan")
	releaseThreads()
	if err != nil {
		return err
	}

	c.timer.StartPhase("sweep")
	res := sweep.New(ds, c.free, c.sweepCfg).Run(ctx)
	c.timer.EndPhase("sweep")

	// Survivors go back into the producers' batch storage for the next
	// cycle; the aggregated mapping stays mapped until runCycle returns
	// (the deferred Release above), after the sweep's fixpoint loop and
	// this redistribution are done with it.
	survivors := collections.Survivors.Get()
	for i := 0; i < ds.Len(); i++ {
		survivors = append(survivors, ds.AddrAt(i))
	}
	c.carry = redistribute(head, survivors)
	collections.Survivors.Put(survivors)

	cs := stats.CycleStats{
		Cycle:         cycleNo,
		Candidates:    candidates,
		Freed:         res.Freed,
		Survivors:     ds.Len(),
		BytesScanned:  bytesScanned,
		ChildPid:      childPid,
		AggregateTime: c.timer.PhaseDuration("aggregate"),
		BarrierTime:   c.timer.PhaseDuration("barrier"),
		ScanTime:      c.timer.PhaseDuration("scan"),
		SweepTime:     c.timer.PhaseDuration("sweep"),
	}
	c.st.RecordCycle(cs)

	telemetry.RecordCycle(span, candidates, res.Freed, cs.Survivors, res.Passes, bytesScanned)
	c.log.With(
		utils.Cycle(cycleNo),
		utils.Blocks("candidates", candidates),
		utils.Blocks("freed", res.Freed),
		utils.Blocks("survivors", cs.Survivors),
		utils.ScannedBytes(bytesScanned),
	).Debug("cycle complete: passes=%d %s", res.Passes, c.timer.Summary())

	c.publish(ctx, cs)
	return nil
}

// publish writes the cycle record to the history database and the archive.
// Both are advisory: failures are logged, never fatal.
func (c *Collector) publish(ctx context.Context, cs stats.CycleStats) {
	if c.repo == nil && c.archive == nil {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	if c.repo != nil {
		g.Go(func() error {
			return c.repo.SaveCycle(ctx, &repository.CycleRecord{
				Cycle:        cs.Cycle,
				Candidates:   cs.Candidates,
				Freed:        cs.Freed,
				Survivors:    cs.Survivors,
				BytesScanned: cs.BytesScanned,
				ChildPid:     cs.ChildPid,
				AggregateUs:  cs.AggregateTime.Microseconds(),
				BarrierUs:    cs.BarrierTime.Microseconds(),
				ScanUs:       cs.ScanTime.Microseconds(),
				SweepUs:      cs.SweepTime.Microseconds(),
			})
		})
	}
	if c.archive != nil {
		g.Go(func() error {
			data, err := json.Marshal(cs)
			if err != nil {
				return err
			}
			key := fmt.Sprintf("cycles/cycle-%06d.json", cs.Cycle)
			return c.archive.Upload(ctx, key, bytes.NewReader(data))
		})
	}
	if err := g.Wait(); err != nil {
		c.log.With(utils.Cycle(cs.Cycle)).Warn("failed to publish cycle record: %v", err)
	}
}

// redistribute writes the survivors back into the original batches' storage
// and returns the head of the new carry-over chain: the first batch holding
// survivors, or nil when none survived. Batches left empty are dropped.
func redistribute(head *dataset.Batch, survivors []uintptr) *dataset.Batch {
	var carryHead, carryTail *dataset.Batch
	i := 0
	for b := head; b != nil; {
		next := b.Next()
		b.SetNext(nil)
		b.Reset()
		for i < len(survivors) && b.Append(survivors[i]) {
			i++
		}
		if b.Len() > 0 {
			if carryHead == nil {
				carryHead = b
			} else {
				carryTail.SetNext(b)
			}
			carryTail = b
		}
		b = next
	}
	return carryHead
}

// PrintStatistics emits process memory usage, the cumulative fork count and
// the peak bytes scanned on one cycle.
func (c *Collector) PrintStatistics(w io.Writer) {
	fmt.Fprint(w, c.st.Report())
}

// OnProcessDeath kills any outstanding snapshot child. Installed as a
// process shutdown hook.
func (c *Collector) OnProcessDeath() {
	if pid := c.childPid.Load(); pid > 0 && c.kill != nil {
		c.kill(int(pid))
	}
}

// Carry returns the current carry-over chain head. Survivor candidates are
// retried on the next cycle.
func (c *Collector) Carry() *dataset.Batch {
	return c.carry
}
