//go:build linux

package collector

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/forkscan/internal/gc/barrier"
	"github.com/forkscan/internal/gc/dataset"
	"github.com/forkscan/internal/gc/registry"
	"github.com/forkscan/internal/gc/scanner"
)

// New creates the production collector: cycles quiesce the mutators with
// the given checkpoint signal, fork a copy-on-write snapshot, scan it in
// the child and sweep in the parent.
func New(opts Options, checkpointSignal syscall.Signal) *Collector {
	signal := func(threads []*registry.Thread) (int, error) {
		return barrier.SignalThreads(threads, checkpointSignal)
	}
	kill := func(pid int) {
		_ = unix.Kill(pid, unix.SIGKILL)
	}
	return newCollector(opts, forkSnapshot, signal, kill, os.Getpagesize())
}

// forkSnapshot forks the quiesced process. The child scans the frozen
// stacks and candidate blocks, reports its byte count over the packet pipe
// and exits; the parent releases the mutators as soon as the fork exists,
// then blocks on the pipe and reaps the child. The pipe read ordering is
// what makes every scanner increment visible before the sweep starts.
func forkSnapshot(c *Collector, ds *dataset.Dataset, threads []*registry.Thread) (uint64, int, error) {
	rfd, wfd, err := barrier.NewNotifyPipe()
	if err != nil {
		c.bar.Release()
		return 0, 0, err
	}

	pid, err := barrier.ForkSnapshot()
	if err != nil {
		c.bar.Release()
		unix.Close(rfd)
		unix.Close(wfd)
		return 0, 0, err
	}

	if pid == 0 {
		// Snapshot child: everything it sees is frozen; only the shared
		// refs array is written.
		scanned := scanner.Scan(ds, threads)
		_ = barrier.WriteScanCount(wfd, scanned)
		unix.Exit(0)
	}

	c.childPid.Store(int64(pid))
	c.st.RecordFork()
	c.bar.Release()
	unix.Close(wfd)

	scanned, err := barrier.ReadScanCount(rfd)
	unix.Close(rfd)
	if err != nil {
		c.OnProcessDeath()
		c.childPid.Store(0)
		return 0, pid, err
	}

	var ws unix.WaitStatus
	_, _ = unix.Wait4(pid, &ws, 0, nil)
	c.childPid.Store(0)

	return scanned, pid, nil
}
