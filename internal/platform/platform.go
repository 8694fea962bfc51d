// Package platform isolates the OS/arch-specific pieces the ARM64 JIT needs:
// an executable memory mapping for generated code, and a check for whether
// this build can run the JIT at all.
package platform

import "runtime"

// JITSupported reports whether this process can compile and run Tier-3 JIT
// code (spec.md §4.6 targets ARM64 only; every other GOARCH stays on
// Tier-1/Tier-2).
func JITSupported() bool {
	return runtime.GOARCH == "arm64" && mmapSupported
}
