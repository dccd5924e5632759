//go:build unix

package stress

import "unsafe"

func rootsRange(roots []uintptr) uintptr {
	return uintptr(unsafe.Pointer(&roots[0]))
}

func ptrAt(base uintptr, word int) unsafe.Pointer {
	return unsafe.Pointer(base + uintptr(word)*8)
}
