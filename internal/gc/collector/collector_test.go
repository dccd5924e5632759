//go:build unix

package collector

import (
	"bytes"
	"context"
	"runtime"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkscan/internal/gc/dataset"
	"github.com/forkscan/internal/gc/registry"
	"github.com/forkscan/internal/gc/sweep"
)

// testHeap fabricates candidate blocks out of ordinary slices.
type testHeap struct {
	mu     sync.Mutex
	blocks [][]uintptr
	sizes  map[uintptr]int
	freed  map[uintptr]int
}

func newTestHeap() *testHeap {
	return &testHeap{
		sizes: make(map[uintptr]int),
		freed: make(map[uintptr]int),
	}
}

func (h *testHeap) newBlock(words int) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := make([]uintptr, words)
	h.blocks = append(h.blocks, b)
	addr := uintptr(unsafe.Pointer(&b[0]))
	h.sizes[addr] = words * 8
	return addr
}

func (h *testHeap) sizeOf(addr uintptr) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sizes[addr]
}

func (h *testHeap) free(addr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freed[addr]++
}

func (h *testHeap) freedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.freed {
		n += c
	}
	return n
}

// poller acknowledges barrier rounds on behalf of a registered thread, the
// way a real mutator's safepoint loop would.
func startPoller(c *Collector, th *registry.Thread) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				c.Barrier().Checkpoint(th)
				runtime.Gosched()
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func newTestCollector(h *testHeap) *Collector {
	return NewInProcess(Options{
		SizeOf:        h.sizeOf,
		Free:          h.free,
		QueueCapacity: 16,
		Sweep:         sweep.Config{MaxWorkers: 4, AddrsPerWorker: 64, UnrefDepth: 30},
	})
}

func TestCollector_UnreferencedLeafCycle(t *testing.T) {
	h := newTestHeap()
	c := newTestCollector(h)

	a := h.newBlock(4)

	stack := make([]uintptr, 8)
	lo := uintptr(unsafe.Pointer(&stack[0]))
	th, err := c.RegisterThread(lo, lo+64, 0)
	require.NoError(t, err)
	stopPoller := startPoller(c, th)
	defer stopPoller()

	require.NoError(t, c.CollectNow(context.Background(), dataset.NewBatchFrom([]uintptr{a})))

	assert.Equal(t, 1, h.freedCount())
	assert.Nil(t, c.Carry(), "survivor chain must be empty")
	assert.Equal(t, int64(1), c.Stats().Cycles())
	runtime.KeepAlive(stack)
}

func TestCollector_StackRootedSurvivesAndCarriesOver(t *testing.T) {
	h := newTestHeap()
	c := newTestCollector(h)

	a := h.newBlock(4)
	b := h.newBlock(4)

	// The registered root range holds a but not b.
	stack := []uintptr{a, 0, 0, 0}
	lo := uintptr(unsafe.Pointer(&stack[0]))
	th, err := c.RegisterThread(lo, lo+32, 0)
	require.NoError(t, err)
	stopPoller := startPoller(c, th)
	defer stopPoller()

	require.NoError(t, c.CollectNow(context.Background(), dataset.NewBatchFrom([]uintptr{a, b})))

	assert.Equal(t, 1, h.freedCount())
	require.NotNil(t, c.Carry())
	assert.Equal(t, []uintptr{a}, c.Carry().Addrs())

	// Next cycle: drop the root; the carry-over candidate is reclaimed
	// together with fresh retirements.
	stack[0] = 0
	fresh := h.newBlock(4)
	require.NoError(t, c.CollectNow(context.Background(), dataset.NewBatchFrom([]uintptr{fresh})))

	assert.Equal(t, 3, h.freedCount())
	assert.Nil(t, c.Carry())
	runtime.KeepAlive(stack)
}

func TestCollector_MixedRedistribution(t *testing.T) {
	h := newTestHeap()
	c := newTestCollector(h)

	const total, rooted = 200, 20
	addrs := make([]uintptr, total)
	for i := range addrs {
		addrs[i] = h.newBlock(2)
	}

	stack := make([]uintptr, rooted)
	for i := 0; i < rooted; i++ {
		stack[i] = addrs[i*10]
	}
	lo := uintptr(unsafe.Pointer(&stack[0]))
	th, err := c.RegisterThread(lo, lo+uintptr(rooted)*8, 0)
	require.NoError(t, err)
	stopPoller := startPoller(c, th)
	defer stopPoller()

	// Candidates arrive in several producer batches.
	head := dataset.NewBatchFrom(addrs[:80])
	head = dataset.Concat(head, dataset.NewBatchFrom(addrs[80:150]))
	head = dataset.Concat(head, dataset.NewBatchFrom(addrs[150:]))

	require.NoError(t, c.CollectNow(context.Background(), head))

	assert.Equal(t, total-rooted, h.freedCount())
	require.NotNil(t, c.Carry())
	assert.Equal(t, rooted, dataset.ChainLen(c.Carry()))
	runtime.KeepAlive(stack)
}

func TestCollector_RetireTriggersHandOff(t *testing.T) {
	h := newTestHeap()
	c := newTestCollector(h)

	stack := make([]uintptr, 4)
	lo := uintptr(unsafe.Pointer(&stack[0]))
	th, err := c.RegisterThread(lo, lo+32, 0)
	require.NoError(t, err)

	// Overfill the ring; the overflow must hand batches to the collector
	// instead of dropping records.
	const retired = 100
	for i := 0; i < retired; i++ {
		c.Retire(th, h.newBlock(2))
	}
	c.HandOff(th)

	head := c.DetachIncoming()
	require.NotNil(t, head)
	assert.Equal(t, retired, dataset.ChainLen(head))
	runtime.KeepAlive(stack)
}

func TestCollector_RunLoop(t *testing.T) {
	h := newTestHeap()
	c := newTestCollector(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Run(ctx)
	}()

	var addrs []uintptr
	for i := 0; i < 50; i++ {
		addrs = append(addrs, h.newBlock(2))
	}
	c.InitiateCollection(dataset.NewBatchFrom(addrs))

	require.Eventually(t, func() bool {
		return h.freedCount() == 50
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
	assert.Equal(t, int64(1), c.Stats().Cycles())
}

func TestCollector_EmptyBatchIgnored(t *testing.T) {
	h := newTestHeap()
	c := newTestCollector(h)

	c.InitiateCollection(nil)
	c.InitiateCollection(dataset.NewBatch(8))
	assert.Nil(t, c.DetachIncoming())
}

func TestRedistribute(t *testing.T) {
	b1 := dataset.NewBatch(2)
	b2 := dataset.NewBatch(3)
	b3 := dataset.NewBatch(2)
	head := dataset.Concat(dataset.Concat(b1, b2), b3)

	carry := redistribute(head, []uintptr{1, 2, 3, 4})

	require.NotNil(t, carry)
	assert.Equal(t, []uintptr{1, 2}, carry.Addrs())
	require.NotNil(t, carry.Next())
	assert.Equal(t, []uintptr{3, 4}, carry.Next().Addrs())
	assert.Nil(t, carry.Next().Next(), "exhausted batches are dropped")

	assert.Nil(t, redistribute(head, nil))
}

func TestStash(t *testing.T) {
	s := NewStash()
	s.Push(0x10)
	s.Push(0x20)
	assert.Equal(t, 2, s.Len())

	addr, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, uintptr(0x20), addr, "stash is LIFO")

	var freed []uintptr
	assert.Equal(t, 1, s.Drain(func(a uintptr) { freed = append(freed, a) }))
	assert.Equal(t, []uintptr{0x10}, freed)
	assert.Equal(t, 0, s.Len())

	_, ok = s.Pop()
	assert.False(t, ok)
}

func TestCollector_PrintStatistics(t *testing.T) {
	h := newTestHeap()
	c := newTestCollector(h)

	require.NoError(t, c.CollectNow(context.Background(), dataset.NewBatchFrom([]uintptr{h.newBlock(2)})))

	var buf bytes.Buffer
	c.PrintStatistics(&buf)
	out := buf.String()
	assert.Contains(t, out, "forks: 0")
	assert.Contains(t, out, "cycles: 1")
	assert.Contains(t, out, "peak bytes scanned:")
}
