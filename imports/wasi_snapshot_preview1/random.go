package wasi_snapshot_preview1

import (
	"context"
	"io"

	"github.com/wazgo/wazgo/api"
	"github.com/wazgo/wazgo/internal/wasm"
)

// randomGet writes buf_len pseudo-random bytes from wazgo.ModuleConfig's
// WithRandSource into guest memory starting at buf.
//
// See https://github.com/WebAssembly/WASI/blob/snapshot-01/phases/snapshot/docs.md#-random_getbuf-pointeru8-buf_len-size---errno
func randomGet(ctx context.Context, mod api.Module, stack []uint64) {
	buf, bufLen := uint32(stack[0]), uint32(stack[1])

	randBytes := make([]byte, bufLen)
	if _, err := io.ReadFull(wasm.SystemContextFromContext(ctx).RandSource, randBytes); err != nil {
		stack[0] = uint64(ErrnoIo)
		return
	}
	if !mod.Memory().Write(ctx, buf, randBytes) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}
