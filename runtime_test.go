package wazgo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazgo/wazgo/api"
	"github.com/wazgo/wazgo/internal/wasm"
)

func u32leb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func name(s string) []byte {
	return append(u32leb(uint32(len(s))), []byte(s)...)
}

func section(id wasm.SectionID, body []byte) []byte {
	return append([]byte{id}, append(u32leb(uint32(len(body))), body...)...)
}

func header() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
}

// addModule builds (module (func (export "add") (param i32 i32) (result i32)
// local.get 0 local.get 1 i32.add)).
func addModule() []byte {
	typeSec := section(wasm.SectionIDType, []byte{0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f})
	funcSec := section(wasm.SectionIDFunction, []byte{0x01, 0x00})
	exportSec := section(wasm.SectionIDExport, append([]byte{0x01}, append(name("add"), wasm.ExternTypeFunc, 0x00)...))
	body := []byte{
		0x00,
		wasm.OpcodeLocalGet, 0x00,
		wasm.OpcodeLocalGet, 0x01,
		wasm.OpcodeI32Add,
		wasm.OpcodeEnd,
	}
	codeSec := section(wasm.SectionIDCode, append([]byte{0x01}, append(u32leb(uint32(len(body))), body...)...))

	buf := append([]byte{}, header()...)
	buf = append(buf, typeSec...)
	buf = append(buf, funcSec...)
	buf = append(buf, exportSec...)
	buf = append(buf, codeSec...)
	return buf
}

// importingModule builds a module that imports importModule.importName as a
// (param i32 i32) (result i32) function and re-exports a forwarding
// "call_add" function that calls it.
func importingModule(importModule, importName string) []byte {
	typeSec := section(wasm.SectionIDType, []byte{0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f})
	importSec := section(wasm.SectionIDImport, append([]byte{0x01},
		append(name(importModule), append(name(importName), wasm.ExternTypeFunc, 0x00)...)...))
	funcSec := section(wasm.SectionIDFunction, []byte{0x01, 0x00})
	exportSec := section(wasm.SectionIDExport, append([]byte{0x01}, append(name("call_add"), wasm.ExternTypeFunc, 0x01)...))
	body := []byte{
		0x00,
		wasm.OpcodeLocalGet, 0x00,
		wasm.OpcodeLocalGet, 0x01,
		wasm.OpcodeCall, 0x00, // call imported func index 0
		wasm.OpcodeEnd,
	}
	codeSec := section(wasm.SectionIDCode, append([]byte{0x01}, append(u32leb(uint32(len(body))), body...)...))

	buf := append([]byte{}, header()...)
	buf = append(buf, typeSec...)
	buf = append(buf, importSec...)
	buf = append(buf, funcSec...)
	buf = append(buf, exportSec...)
	buf = append(buf, codeSec...)
	return buf
}

func TestRuntime_CompileAndInstantiate_Add(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, addModule())
	require.NoError(t, err)
	defer compiled.Close(ctx)

	mod, err := r.InstantiateModule(ctx, compiled, NewModuleConfig().WithStartFunctions())
	require.NoError(t, err)

	results, err := mod.ExportedFunction("add").Call(ctx, 40, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

func TestRuntime_HostModule_ImportedByWasm(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	defer r.Close(ctx)

	_, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, x, y uint32) uint32 { return x + y }).
		Export("add").
		Instantiate(ctx)
	require.NoError(t, err)

	compiled, err := r.CompileModule(ctx, importingModule("env", "add"))
	require.NoError(t, err)
	defer compiled.Close(ctx)

	mod, err := r.InstantiateModule(ctx, compiled, NewModuleConfig().WithStartFunctions())
	require.NoError(t, err)

	results, err := mod.ExportedFunction("call_add").Call(ctx, 7, 35)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

// incImportingModule builds a module that imports importModule.importName as
// a (param i32) (result i32) function and re-exports a forwarding
// "call_inc" function that calls it.
func incImportingModule(importModule, importName string) []byte {
	typeSec := section(wasm.SectionIDType, []byte{0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f})
	importSec := section(wasm.SectionIDImport, append([]byte{0x01},
		append(name(importModule), append(name(importName), wasm.ExternTypeFunc, 0x00)...)...))
	funcSec := section(wasm.SectionIDFunction, []byte{0x01, 0x00})
	exportSec := section(wasm.SectionIDExport, append([]byte{0x01}, append(name("call_inc"), wasm.ExternTypeFunc, 0x01)...))
	body := []byte{
		0x00,
		wasm.OpcodeLocalGet, 0x00,
		wasm.OpcodeCall, 0x00,
		wasm.OpcodeEnd,
	}
	codeSec := section(wasm.SectionIDCode, append([]byte{0x01}, append(u32leb(uint32(len(body))), body...)...))

	buf := append([]byte{}, header()...)
	buf = append(buf, typeSec...)
	buf = append(buf, importSec...)
	buf = append(buf, funcSec...)
	buf = append(buf, exportSec...)
	buf = append(buf, codeSec...)
	return buf
}

func TestRuntime_HostModule_GoModuleFunction(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	defer r.Close(ctx)

	_, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			stack[0] = stack[0] + 1
		}), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export("inc").
		Instantiate(ctx)
	require.NoError(t, err)

	compiled, err := r.CompileModule(ctx, incImportingModule("env", "inc"))
	require.NoError(t, err)
	defer compiled.Close(ctx)

	mod, err := r.InstantiateModule(ctx, compiled, NewModuleConfig().WithStartFunctions())
	require.NoError(t, err)

	results, err := mod.ExportedFunction("call_inc").Call(ctx, 41)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

func TestModuleConfig_WithImportModule(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	defer r.Close(ctx)

	_, err := r.NewHostModuleBuilder("renamed").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, x, y uint32) uint32 { return x + y }).
		Export("add").
		Instantiate(ctx)
	require.NoError(t, err)

	compiled, err := r.CompileModule(ctx, importingModule("env", "add"))
	require.NoError(t, err)
	defer compiled.Close(ctx)

	cfg := NewModuleConfig().WithStartFunctions().WithImportModule("env", "renamed")
	mod, err := r.InstantiateModule(ctx, compiled, cfg)
	require.NoError(t, err)

	results, err := mod.ExportedFunction("call_add").Call(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, results)
}

func TestModuleConfig_ArgsAndEnv(t *testing.T) {
	cfg := NewModuleConfig().WithArgs("a", "b").WithEnv("K", "v").WithEnv("K", "v2")
	sys := cfg.toSystemContext()
	require.Equal(t, []string{"a", "b"}, sys.Args)
	require.Equal(t, []string{"K=v2"}, sys.Environ)
}
