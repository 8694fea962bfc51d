//go:build arm64

package jit

import "unsafe"

// nativecall invokes the JIT-compiled function at codeAddr, passing regsPtr
// as its sole argument (the base of the function's register file, laid out
// identically to the slice regirvm.Run operates on) and returning the trap
// code left in X0.
//
// The body lives in trampoline_arm64.s. It is deliberately tiny: load two
// pointers into argument registers, branch-and-link, return. Nothing here
// spills or restores callee-saved registers because jit.Compile never
// lowers a call instruction, so generated code never calls back into Go or
// anywhere else that could observe a clobbered register.
func nativecall(codeAddr uintptr, regsPtr unsafe.Pointer) uint64

func unsafePointer(regs []uint64) unsafe.Pointer {
	if len(regs) == 0 {
		return nil
	}
	return unsafe.Pointer(&regs[0])
}
