// Package wasi_snapshot_preview1 implements the subset of WASI Preview 1
// exercised by command-style guests: standard output, process exit,
// command-line arguments, environment variables, a clock and a source of
// randomness. There is no file system surface (no fd_read/path_open/etc);
// wazgo's Host-Import Binding does not expose a guest file system.
package wasi_snapshot_preview1

import (
	"context"

	"github.com/wazgo/wazgo"
	"github.com/wazgo/wazgo/api"
	"github.com/wazgo/wazgo/internal/tracelog"
)

// ModuleName is the module name WASI binaries expect these functions
// under, per the wasi_snapshot_preview1 convention.
const ModuleName = "wasi_snapshot_preview1"

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

var log = tracelog.For("wasi")

// Instantiate instantiates the wasi_snapshot_preview1 module into r's
// default namespace. Closing r has the same effect as closing the result.
func Instantiate(ctx context.Context, r wazgo.Runtime) (api.Closer, error) {
	log.Debug("instantiating wasi_snapshot_preview1")
	builder := r.NewHostModuleBuilder(ModuleName)
	exportFunctions(builder)
	return builder.Instantiate(ctx)
}

// FunctionExporter exports this package's host functions into any
// wazgo.HostModuleBuilder, regardless of the module name it was created
// with. component/wasip2shim uses this to re-export the same functions
// under the Preview-2 interface names a component imports, without
// duplicating their implementation.
//
// # Notes
//
//   - This is an interface for decoupling, not third-party implementations.
//     All implementations are in wazgo.
type FunctionExporter interface {
	ExportFunctions(wazgo.HostModuleBuilder)
}

// NewFunctionExporter returns a new FunctionExporter.
func NewFunctionExporter() FunctionExporter {
	return &functionExporter{}
}

type functionExporter struct{}

// ExportFunctions implements FunctionExporter.ExportFunctions.
func (functionExporter) ExportFunctions(builder wazgo.HostModuleBuilder) {
	exportFunctions(builder)
}

// exportFunctions registers every function this shim supports onto builder.
func exportFunctions(builder wazgo.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(argsGet), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		WithParameterNames("argv", "argv_buf").
		Export("args_get")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(argsSizesGet), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		WithParameterNames("result.argc", "result.argv_len").
		Export("args_sizes_get")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(environGet), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		WithParameterNames("environ", "environ_buf").
		Export("environ_get")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(environSizesGet), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		WithParameterNames("result.environc", "result.environ_len").
		Export("environ_sizes_get")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(clockTimeGet), []api.ValueType{i32, i64, i32}, []api.ValueType{i32}).
		WithParameterNames("id", "precision", "result.timestamp").
		Export("clock_time_get")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(randomGet), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		WithParameterNames("buf", "buf_len").
		Export("random_get")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(fdWrite), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("fd", "iovs", "iovs_len", "result.size").
		Export("fd_write")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(procExit), []api.ValueType{i32}, nil).
		WithParameterNames("rval").
		Export("proc_exit")
}
