package wasm

import (
	"context"
	"io"
	"time"
)

// SystemContext carries the host-provided ambient environment a guest
// module's imports (notably the WASI shim) read from: args, environment
// variables, standard streams, a clock, and a source of randomness. It is
// attached to a ModuleInstance's CallContext at instantiation so host
// functions never need their own side channel (spec.md §6.2).
type SystemContext struct {
	Args    []string
	Environ []string
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	Walltime func() time.Time
	Nanotime func() int64
	RandSource io.Reader
}

type systemContextKey struct{}

func withSystemContext(ctx context.Context, sys SystemContext) context.Context {
	return context.WithValue(ctx, systemContextKey{}, sys)
}

// SystemContextFromContext retrieves the SystemContext a host function's
// ctx was instantiated with, or the zero value if none was attached (a
// module instantiated without WASI imports).
func SystemContextFromContext(ctx context.Context) SystemContext {
	sys, _ := ctx.Value(systemContextKey{}).(SystemContext)
	return sys
}
