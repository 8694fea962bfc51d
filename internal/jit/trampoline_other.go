//go:build !arm64

package jit

import "unsafe"

// nativecall is never reached on non-ARM64 builds: platform.JITSupported
// returns false there, so Compile bails out with ErrUnsupported before any
// caller can reach Invoke.
func nativecall(codeAddr uintptr, regsPtr unsafe.Pointer) uint64 {
	panic("jit: nativecall invoked on unsupported GOARCH")
}

func unsafePointer(regs []uint64) unsafe.Pointer {
	if len(regs) == 0 {
		return nil
	}
	return unsafe.Pointer(&regs[0])
}
