//go:build unix

// Package stress drives the reclamation engine with synthetic mutator
// threads for validation and benchmarking.
package stress

import (
	"context"
	"math/rand"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forkscan/internal/gc/collector"
	"github.com/forkscan/internal/gc/mem"
	"github.com/forkscan/pkg/utils"
)

// Config tunes the workload.
type Config struct {
	// Mutators is the number of concurrent mutator threads.
	Mutators int
	// BlocksPerMutator is how many blocks each mutator allocates and
	// eventually retires.
	BlocksPerMutator int
	// BlockWords is the block payload size in machine words.
	BlockWords int
	// LiveRoots is the size of each mutator's root set; blocks displaced
	// from it are retired.
	LiveRoots int
	// DrainTimeout bounds the final reclamation drain.
	DrainTimeout time.Duration
}

// DefaultConfig returns a moderate workload.
func DefaultConfig() Config {
	return Config{
		Mutators:         4,
		BlocksPerMutator: 20000,
		BlockWords:       8,
		LiveRoots:        64,
		DrainTimeout:     30 * time.Second,
	}
}

// Report summarizes a run.
type Report struct {
	Allocated int
	Freed     int
	Live      int
	Cycles    int64
	Forks     int64
}

// Runner owns the arena and the collector the workload runs against.
type Runner struct {
	cfg   Config
	c     *collector.Collector
	arena *mem.Arena
	log   utils.Logger
}

// NewRunner creates a stress runner. The collector must have been built
// with the arena's UsableSize and Free callbacks.
func NewRunner(cfg Config, c *collector.Collector, arena *mem.Arena, log utils.Logger) *Runner {
	if log == nil {
		log = utils.Default()
	}
	return &Runner{cfg: cfg, c: c, arena: arena, log: log}
}

// Run executes the workload: mutators allocate linked blocks, keep a root
// set live and retire everything they displace, while a collector goroutine
// cycles over the hand-offs. Returns once all retired blocks have been
// reclaimed or the drain timeout expires.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Collector driver: cycle whenever batches or carry-over are pending.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			head := r.c.DetachIncoming()
			if head == nil && r.c.Carry() == nil {
				time.Sleep(time.Millisecond)
				continue
			}
			if err := r.c.CollectNow(ctx, head); err != nil {
				r.log.Error("stress cycle failed: %v", err)
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for m := 0; m < r.cfg.Mutators; m++ {
		seed := int64(m + 1)
		g.Go(func() error {
			return r.mutate(gctx, seed)
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	// Final drain: keep cycling until every retired block came back.
	deadline := time.Now().Add(r.cfg.DrainTimeout)
	for r.arena.Live() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	allocated, freed := r.arena.Stats()
	return Report{
		Allocated: allocated,
		Freed:     freed,
		Live:      r.arena.Live(),
		Cycles:    r.c.Stats().Cycles(),
		Forks:     r.c.Stats().Forks(),
	}, nil
}

// mutate is one mutator thread's life: allocate, link, publish to the root
// set, retire what falls out of it.
func (r *Runner) mutate(ctx context.Context, seed int64) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rng := rand.New(rand.NewSource(seed))

	roots := make([]uintptr, r.cfg.LiveRoots)
	lo := rootsRange(roots)
	th, err := r.c.RegisterThread(lo, lo+uintptr(len(roots))*mem.PtrSize, osThreadID())
	if err != nil {
		return err
	}

	var prev uintptr
	for i := 0; i < r.cfg.BlocksPerMutator; i++ {
		if ctx.Err() != nil {
			break
		}
		r.c.Barrier().Checkpoint(th)

		addr, err := r.arena.Alloc(r.cfg.BlockWords * mem.PtrSize)
		if err != nil {
			return err
		}
		// Link to the previous allocation so cascades have chains to chew
		// through.
		if prev != 0 {
			storeWord(addr, 0, prev)
		}
		prev = addr

		slot := rng.Intn(len(roots))
		if old := roots[slot]; old != 0 {
			r.c.Retire(th, old)
		}
		roots[slot] = addr
	}

	// Tear down: everything still rooted gets retired.
	for i, addr := range roots {
		if addr != 0 {
			r.c.Retire(th, addr)
			roots[i] = 0
		}
	}
	r.c.HandOff(th)

	for {
		if err := r.c.UnregisterThread(th); err == nil {
			break
		}
		// A scan still holds the root range; keep acknowledging barriers
		// until it lets go.
		r.c.Barrier().Checkpoint(th)
		runtime.Gosched()
	}
	return nil
}

func storeWord(base uintptr, word int, v uintptr) {
	*(*uintptr)(ptrAt(base, word)) = v
}
