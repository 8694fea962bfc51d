package wasi_snapshot_preview1

import (
	"context"

	"github.com/wazgo/wazgo/api"
	"github.com/wazgo/wazgo/internal/cstring"
	"github.com/wazgo/wazgo/internal/wasm"
)

// argsGet reads command-line argument data.
//
//   - argv: offset to begin writing argument offsets in uint32 little-endian to api.Memory
//   - argvBuf: offset to write the null-terminated arguments to api.Memory
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#args_get
func argsGet(ctx context.Context, mod api.Module, stack []uint64) {
	argv, argvBuf := uint32(stack[0]), uint32(stack[1])
	args, err := cstring.NewNullTerminatedStrings(^uint32(0), "arg", wasm.SystemContextFromContext(ctx).Args...)
	if err != nil {
		stack[0] = uint64(ErrnoInval)
		return
	}
	stack[0] = uint64(writeOffsetsAndValues(ctx, mod.Memory(), args, argv, argvBuf))
}

// argsSizesGet returns command-line argument sizes.
//
//   - resultArgc: offset to write the argument count
//   - resultArgvLen: offset to write the total null-terminated argument buffer length
func argsSizesGet(ctx context.Context, mod api.Module, stack []uint64) {
	resultArgc, resultArgvLen := uint32(stack[0]), uint32(stack[1])
	args, err := cstring.NewNullTerminatedStrings(^uint32(0), "arg", wasm.SystemContextFromContext(ctx).Args...)
	if err != nil {
		stack[0] = uint64(ErrnoInval)
		return
	}
	mem := mod.Memory()
	if !mem.WriteUint32Le(ctx, resultArgc, uint32(len(args.NullTerminatedValues))) ||
		!mem.WriteUint32Le(ctx, resultArgvLen, args.TotalBufSize) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}

// writeOffsetsAndValues writes the offsets of each of vals.NullTerminatedValues, relative to valuesOffset, to
// api.Memory starting at offsetsOffset, then the null-terminated bytes themselves starting at valuesOffset.
func writeOffsetsAndValues(ctx context.Context, mem api.Memory, vals *cstring.NullTerminatedStrings, offsetsOffset, valuesOffset uint32) Errno {
	valuesOffsetCursor := valuesOffset
	offsetsOffsetCursor := offsetsOffset
	for _, val := range vals.NullTerminatedValues {
		if !mem.WriteUint32Le(ctx, offsetsOffsetCursor, valuesOffsetCursor) {
			return ErrnoFault
		}
		offsetsOffsetCursor += 4
		if !mem.Write(ctx, valuesOffsetCursor, val) {
			return ErrnoFault
		}
		valuesOffsetCursor += uint32(len(val))
	}
	return ErrnoSuccess
}
