package wasi_snapshot_preview1

import (
	"context"
	"io"

	"github.com/wazgo/wazgo/api"
	"github.com/wazgo/wazgo/internal/wasm"
)

const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

// fdWrite writes iovsCount (offset, length) pairs starting at iovs to fd.
//
//   - fd: an opened file descriptor to write data to (only stdout/stderr are supported)
//   - iovs: offset to read (offset, length) uint32 little-endian pairs from
//   - iovsCount: count of pairs to read sequentially starting at iovs
//   - resultSize: offset to write the number of bytes written
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#fd_write
func fdWrite(ctx context.Context, mod api.Module, stack []uint64) {
	fd := uint32(stack[0])
	iovs := uint32(stack[1])
	iovsCount := uint32(stack[2])
	resultSize := uint32(stack[3])

	sys := wasm.SystemContextFromContext(ctx)
	var writer io.Writer
	switch fd {
	case fdStdout:
		writer = sys.Stdout
	case fdStderr:
		writer = sys.Stderr
	default:
		stack[0] = uint64(ErrnoBadf)
		return
	}

	mem := mod.Memory()
	var nwritten uint32
	for i := uint32(0); i < iovsCount; i++ {
		iov := iovs + i*8
		offset, ok := mem.ReadUint32Le(ctx, iov)
		if !ok {
			stack[0] = uint64(ErrnoFault)
			return
		}
		length, ok := mem.ReadUint32Le(ctx, iov+4)
		if !ok {
			stack[0] = uint64(ErrnoFault)
			return
		}
		b, ok := mem.Read(ctx, offset, length)
		if !ok {
			stack[0] = uint64(ErrnoFault)
			return
		}
		n, err := writer.Write(b)
		if err != nil {
			stack[0] = uint64(ErrnoIo)
			return
		}
		nwritten += uint32(n)
	}
	if !mem.WriteUint32Le(ctx, resultSize, nwritten) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}
