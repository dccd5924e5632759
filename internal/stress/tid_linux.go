//go:build linux

package stress

import "golang.org/x/sys/unix"

// osThreadID returns the calling OS thread's id for signal delivery. The
// caller must be locked to its OS thread.
func osThreadID() int {
	return unix.Gettid()
}
