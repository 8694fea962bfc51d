package wasi_snapshot_preview1

import (
	"context"

	"github.com/wazgo/wazgo/api"
	"github.com/wazgo/wazgo/internal/cstring"
	"github.com/wazgo/wazgo/internal/wasm"
)

// environGet reads environment variable data, each entry already formatted
// "key=value" by wazgo.ModuleConfig.WithEnv.
//
//   - environ: offset to begin writing variable offsets in uint32 little-endian to api.Memory
//   - environBuf: offset to write the null-terminated variables to api.Memory
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#environ_get
func environGet(ctx context.Context, mod api.Module, stack []uint64) {
	environOff, environBuf := uint32(stack[0]), uint32(stack[1])
	vars, err := cstring.NewNullTerminatedStrings(^uint32(0), "environ", wasm.SystemContextFromContext(ctx).Environ...)
	if err != nil {
		stack[0] = uint64(ErrnoInval)
		return
	}
	stack[0] = uint64(writeOffsetsAndValues(ctx, mod.Memory(), vars, environOff, environBuf))
}

// environSizesGet returns environment variable sizes.
//
//   - resultEnvironc: offset to write the variable count
//   - resultEnvironLen: offset to write the total null-terminated variable buffer length
func environSizesGet(ctx context.Context, mod api.Module, stack []uint64) {
	resultEnvironc, resultEnvironLen := uint32(stack[0]), uint32(stack[1])
	vars, err := cstring.NewNullTerminatedStrings(^uint32(0), "environ", wasm.SystemContextFromContext(ctx).Environ...)
	if err != nil {
		stack[0] = uint64(ErrnoInval)
		return
	}
	mem := mod.Memory()
	if !mem.WriteUint32Le(ctx, resultEnvironc, uint32(len(vars.NullTerminatedValues))) ||
		!mem.WriteUint32Le(ctx, resultEnvironLen, vars.TotalBufSize) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}
