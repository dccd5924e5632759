//go:build amd64 || arm64

package barrier

// spillWords is the size of the register spill buffer in machine words.
const spillWords = 16

// spillRegisters stores general-purpose registers into buf, which lives on
// the caller's stack frame: on amd64 every one except AX (which holds buf),
// on arm64 the sixteen registers R0-R7 and R19-R26. The buffer must not escape to the
// heap; the whole point is that the values land in stack memory.
//
//go:noescape
func spillRegisters(buf *[spillWords]uintptr)
