//go:build linux

package barrier

import (
	"encoding/binary"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/forkscan/internal/gc/registry"
	"github.com/forkscan/pkg/errors"
)

// SignalThreads delivers the checkpoint signal to every registered thread
// that has an OS thread identity and returns the number of acknowledgments
// the collector must wait for. Threads without a TID (in-process mutators
// driven purely by safepoint polling) are counted but not signaled; the
// signal only exists to kick threads out of blocking states.
func SignalThreads(threads []*registry.Thread, sig syscall.Signal) (int, error) {
	pid := unix.Getpid()
	for _, th := range threads {
		if th.TID == 0 {
			continue
		}
		if err := unix.Tgkill(pid, th.TID, sig); err != nil {
			return 0, errors.E(errors.Signal, "tgkill checkpoint signal", err)
		}
	}
	return len(threads), nil
}

// ForkSnapshot forks the process, producing a copy-on-write snapshot of all
// memory. Returns the child pid in the parent and 0 in the child. Every
// mutator must be parked at the checkpoint when this is called.
func ForkSnapshot() (int, error) {
	syscall.ForkLock.Lock()
	pid, _, errno := unix.Syscall6(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0, 0, 0, 0)
	syscall.ForkLock.Unlock()
	if errno != 0 {
		return 0, errors.E(errors.Fork, "clone snapshot process", errno)
	}
	return int(pid), nil
}

// NewNotifyPipe opens the child-to-parent notification pipe with packet
// semantics, so the child's single write matches the parent's single read.
func NewNotifyPipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_DIRECT); err != nil {
		return 0, 0, errors.E(errors.Pipe, "pipe2", err)
	}
	return fds[0], fds[1], nil
}

// WriteScanCount reports the child's bytes-scanned total to the parent.
func WriteScanCount(fd int, n uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	if _, err := unix.Write(fd, buf[:]); err != nil {
		return errors.E(errors.Pipe, "write scan count", err)
	}
	return nil
}

// ReadScanCount blocks until the child's bytes-scanned message arrives.
// The parent must not touch the dataset before this returns.
func ReadScanCount(fd int) (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return 0, errors.E(errors.Pipe, "read scan count", err)
	}
	if n != 8 {
		return 0, errors.E(errors.Pipe, "short scan count message", nil)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
