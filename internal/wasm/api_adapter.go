package wasm

import (
	"context"
	"fmt"
	"reflect"

	"github.com/wazgo/wazgo/api"
)

// This file adapts the internal runtime types to the public api package
// interfaces (api.Module, api.Memory, api.Global, api.Function). Keeping
// the adapter here, rather than in the root package, lets ModuleInstance
// satisfy api.Module directly without a second wrapper allocation per
// instantiation.

var _ api.Module = (*ModuleInstance)(nil)

func (inst *ModuleInstance) String() string { return fmt.Sprintf("Module[%s]", inst.Name) }

func (inst *ModuleInstance) Memory() api.Memory {
	if inst.Mem == nil {
		return nil
	}
	return memoryView{m: inst.Mem}
}

func (inst *ModuleInstance) ExportedFunction(name string) api.Function {
	exp, ok := inst.Exports[name]
	if !ok || exp.Type != ExternTypeFunc {
		return nil
	}
	return &functionView{inst: inst, fn: exp.Function}
}

func (inst *ModuleInstance) ExportedMemory(name string) api.Memory {
	exp, ok := inst.Exports[name]
	if !ok || exp.Type != ExternTypeMemory {
		return nil
	}
	return memoryView{m: exp.Memory}
}

func (inst *ModuleInstance) ExportedGlobal(name string) api.Global {
	exp, ok := inst.Exports[name]
	if !ok || exp.Type != ExternTypeGlobal {
		return nil
	}
	if exp.Global.Type.Mutable {
		return mutableGlobalView{g: exp.Global}
	}
	return globalView{g: exp.Global}
}

func (inst *ModuleInstance) Close(ctx context.Context) error {
	return inst.CloseWithExitCode(ctx, 0)
}

// memoryView adapts *MemoryInstance to api.Memory.
type memoryView struct{ m *MemoryInstance }

func (v memoryView) Size(context.Context) uint32 { return uint32(len(v.m.Buffer)) }
func (v memoryView) Grow(_ context.Context, delta uint32) (uint32, bool) {
	prev, ok := v.m.Grow(delta)
	return prev, ok
}
func (v memoryView) ReadByte(_ context.Context, offset uint32) (byte, bool) {
	return v.m.ReadByte(uint64(offset))
}
func (v memoryView) ReadUint16Le(_ context.Context, offset uint32) (uint16, bool) {
	return v.m.ReadUint16(uint64(offset))
}
func (v memoryView) ReadUint32Le(_ context.Context, offset uint32) (uint32, bool) {
	return v.m.ReadUint32(uint64(offset))
}
func (v memoryView) ReadFloat32Le(_ context.Context, offset uint32) (float32, bool) {
	return v.m.ReadFloat32(uint64(offset))
}
func (v memoryView) ReadUint64Le(_ context.Context, offset uint32) (uint64, bool) {
	return v.m.ReadUint64(uint64(offset))
}
func (v memoryView) ReadFloat64Le(_ context.Context, offset uint32) (float64, bool) {
	return v.m.ReadFloat64(uint64(offset))
}
func (v memoryView) Read(_ context.Context, offset, byteCount uint32) ([]byte, bool) {
	return v.m.Read(uint64(offset), uint64(byteCount))
}
func (v memoryView) WriteByte(_ context.Context, offset uint32, val byte) bool {
	return v.m.WriteByte(uint64(offset), val)
}
func (v memoryView) WriteUint16Le(_ context.Context, offset uint32, val uint16) bool {
	return v.m.WriteUint16(uint64(offset), val)
}
func (v memoryView) WriteUint32Le(_ context.Context, offset, val uint32) bool {
	return v.m.WriteUint32(uint64(offset), val)
}
func (v memoryView) WriteFloat32Le(_ context.Context, offset uint32, val float32) bool {
	return v.m.WriteFloat32(uint64(offset), val)
}
func (v memoryView) WriteUint64Le(_ context.Context, offset uint32, val uint64) bool {
	return v.m.WriteUint64(uint64(offset), val)
}
func (v memoryView) WriteFloat64Le(_ context.Context, offset uint32, val float64) bool {
	return v.m.WriteFloat64(uint64(offset), val)
}
func (v memoryView) Write(_ context.Context, offset uint32, src []byte) bool {
	return v.m.Write(uint64(offset), src)
}

// globalView/mutableGlobalView adapt *GlobalInstance to api.Global /
// api.MutableGlobal.
type globalView struct{ g *GlobalInstance }

func (v globalView) String() string            { return api.ValueTypeName(v.g.Type.ValType) }
func (v globalView) Type() api.ValueType        { return v.g.Type.ValType }
func (v globalView) Get(context.Context) uint64 { return v.g.Get() }

type mutableGlobalView struct{ g *GlobalInstance }

func (v mutableGlobalView) String() string            { return api.ValueTypeName(v.g.Type.ValType) }
func (v mutableGlobalView) Type() api.ValueType        { return v.g.Type.ValType }
func (v mutableGlobalView) Get(context.Context) uint64 { return v.g.Get() }
func (v mutableGlobalView) Set(_ context.Context, val uint64) { v.g.Set(val) }

// functionView adapts a *FunctionInstance, plus the calling module
// instance's engine, to api.Function.
type functionView struct {
	inst *ModuleInstance
	fn   *FunctionInstance
}

func (v *functionView) Definition() api.FunctionDefinition { return functionDefinition{fn: v.fn} }

func (v *functionView) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results, err := v.inst.Engine.Call(ctx, v.inst.CallCtx.WithContext(ctx), v.fn.Idx, params)
	// A host function reached during this call (proc_exit, or the embedder's
	// own CloseWithExitCode) may have closed the module without the engine
	// itself returning an error; surface that as a *sys.ExitError here so
	// every call path gets exit-code propagation for free.
	if err == nil {
		err = v.inst.FailIfClosed()
	}
	return results, err
}

type functionDefinition struct{ fn *FunctionInstance }

func (d functionDefinition) ModuleName() string { return d.fn.Module.Name }
func (d functionDefinition) Index() uint32      { return d.fn.Idx }
func (d functionDefinition) Name() string       { return d.fn.name }
func (d functionDefinition) DebugName() string  { return d.fn.DebugName() }
func (d functionDefinition) Import() (string, string, bool) {
	return "", "", false
}
func (d functionDefinition) ExportNames() []string  { return d.fn.exportNames }
func (d functionDefinition) GoFunc() *reflect.Value { return nil }
func (d functionDefinition) ParamTypes() []ValueType  { return d.fn.Type.Params }
func (d functionDefinition) ParamNames() []string     { return nil }
func (d functionDefinition) ResultTypes() []ValueType { return d.fn.Type.Results }
