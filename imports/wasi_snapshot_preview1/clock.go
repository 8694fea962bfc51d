package wasi_snapshot_preview1

import (
	"context"

	"github.com/wazgo/wazgo/api"
	"github.com/wazgo/wazgo/internal/wasm"
)

// clockIDRealtime and clockIDMonotonic are the two clock IDs command-style
// guests actually use; clockIDProcessCputime and clockIDThreadCputime were
// removed from the WASI proposal.
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-clockid-enumu32
const (
	clockIDRealtime = iota
	clockIDMonotonic
)

// clockTimeGet returns the current time for the given clock ID as a
// nanosecond-precision uint64 little-endian timestamp.
//
//   - id: clock ID to use
//   - resultTimestamp: offset to write the timestamp to api.Memory
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-clock_time_getid-clockid-precision-timestamp---errno-timestamp
func clockTimeGet(ctx context.Context, mod api.Module, stack []uint64) {
	id := uint32(stack[0])
	resultTimestamp := uint32(stack[2])

	sys := wasm.SystemContextFromContext(ctx)
	var nanos int64
	switch id {
	case clockIDRealtime:
		nanos = sys.Walltime().UnixNano()
	case clockIDMonotonic:
		nanos = sys.Nanotime()
	default:
		stack[0] = uint64(ErrnoInval)
		return
	}
	if !mod.Memory().WriteUint64Le(ctx, resultTimestamp, uint64(nanos)) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}
