package wasi_snapshot_preview1

import (
	"context"

	"github.com/wazgo/wazgo/api"
)

// procExit terminates the calling module's instance with the given exit
// code, via api.Module.CloseWithExitCode. Unlike the other functions here,
// it has no result: the guest never observes a return from this call.
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#proc_exit
func procExit(ctx context.Context, mod api.Module, stack []uint64) {
	exitCode := uint32(stack[0])
	_ = mod.CloseWithExitCode(ctx, exitCode)
}
