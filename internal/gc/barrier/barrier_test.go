package barrier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forkscan/internal/gc/registry"
)

func TestBarrier_Round(t *testing.T) {
	b := New()
	const mutators = 4

	b.Arm()
	require.True(t, b.Armed())

	var wg sync.WaitGroup
	for i := 0; i < mutators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.WaitForSnapshot()
		}()
	}

	b.AwaitQuiescent(mutators)
	assert.Equal(t, int64(mutators), b.Received())

	// All mutators are parked; release unblocks them.
	b.Release()
	wg.Wait()
	assert.False(t, b.Armed())
	assert.Equal(t, uint64(1), b.Epoch())
}

func TestBarrier_MultipleRounds(t *testing.T) {
	b := New()

	for round := 0; round < 3; round++ {
		b.Arm()
		done := make(chan struct{})
		go func() {
			b.WaitForSnapshot()
			close(done)
		}()
		b.AwaitQuiescent(1)
		b.Release()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("mutator stuck at barrier")
		}
	}
	assert.Equal(t, uint64(3), b.Epoch())
}

func TestCheckpoint_OncePerEpoch(t *testing.T) {
	b := New()
	th := &registry.Thread{StackLo: 0x1000, StackHi: 0x2000}

	// Not armed: no acknowledgment.
	assert.False(t, b.Checkpoint(th))

	b.Arm()
	done := make(chan bool, 2)
	go func() { done <- b.Checkpoint(th) }()
	b.AwaitQuiescent(1)

	// A second checkpoint for the same thread in the same round must not
	// acknowledge again.
	assert.False(t, b.Checkpoint(th))
	assert.Equal(t, int64(1), b.Received())

	b.Release()
	assert.True(t, <-done)

	// Next round: the same thread acknowledges again.
	b.Arm()
	go func() { done <- b.Checkpoint(th) }()
	b.AwaitQuiescent(1)
	b.Release()
	assert.True(t, <-done)
}

func TestSpillRegisters_WritesBuffer(t *testing.T) {
	var regs [spillWords]uintptr
	spillRegisters(&regs)
	// The buffer holds whatever was in the registers; the call must at
	// least not fault and must leave the buffer addressable.
	_ = regs
}
