package wasm

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/api"
)

// HostFunc describes one Go-implemented function to be exported from a host
// module (spec.md §4.8's Host-Import Binding), independent of any Wasm
// binary. Exactly one of GoFunc/GoModuleFunc is set.
type HostFunc struct {
	ExportName  string
	Name        string
	ParamTypes  []ValueType
	ResultTypes []ValueType
	ParamNames  []string
	ResultNames []string

	GoFunc       api.GoFunction
	GoModuleFunc api.GoModuleFunction
}

// NewHostModuleInstance builds a ModuleInstance backed entirely by Go
// functions, with no Wasm bytecode, TypeSection, or Engine involved — the
// host module bypasses decode/predecode/compile entirely since there is no
// bytecode to predecode (spec.md §4.8). Exported memory, if any, is created
// directly rather than via a MemorySection.
func NewHostModuleInstance(name string, exportNames []string, nameToFunc map[string]*HostFunc, nameToMemory map[string]*MemoryType) (*ModuleInstance, error) {
	inst := &ModuleInstance{Name: name, Exports: map[string]*ExportInstance{}}

	for i, exportName := range exportNames {
		hf, ok := nameToFunc[exportName]
		if !ok {
			return nil, errors.Errorf("host module %q: no function registered for export %q", name, exportName)
		}
		kind := FunctionKindGoFunc
		if hf.GoModuleFunc != nil {
			kind = FunctionKindGoModuleFunc
		}
		fi := &FunctionInstance{
			Kind:         kind,
			Type:         &FunctionType{Params: hf.ParamTypes, Results: hf.ResultTypes},
			GoFunc:       hf.GoFunc,
			GoModuleFunc: hf.GoModuleFunc,
			Module:       inst,
			Idx:          Index(i),
			name:         hf.Name,
			exportNames:  []string{exportName},
		}
		inst.Functions = append(inst.Functions, fi)
		inst.Exports[exportName] = &ExportInstance{Type: ExternTypeFunc, Function: fi}
	}

	for exportName, mt := range nameToMemory {
		if inst.Mem != nil {
			return nil, errors.Errorf("host module %q: at most one exported memory is supported", name)
		}
		inst.Mem = NewMemoryInstance(mt)
		inst.Exports[exportName] = &ExportInstance{Type: ExternTypeMemory, Memory: inst.Mem}
	}

	eng := hostModuleEngine{instance: inst}
	inst.Engine = eng
	inst.CallCtx = NewCallContext(context.Background(), inst)
	return inst, nil
}

// hostModuleEngine answers Call/LookupEntry for a ModuleInstance built by
// NewHostModuleInstance by invoking the FunctionInstance's Go closure
// directly; host modules never go through a compiled-tier ModuleEngine
// since they have no predecoded instruction stream to interpret.
type hostModuleEngine struct{ instance *ModuleInstance }

func (e hostModuleEngine) Call(ctx context.Context, callCtx *CallContext, index Index, params []uint64) ([]uint64, error) {
	fi := e.instance.Functions[index]
	n := len(fi.Type.Params)
	if r := len(fi.Type.Results); r > n {
		n = r
	}
	stack := make([]uint64, n)
	copy(stack, params)
	switch fi.Kind {
	case FunctionKindGoFunc:
		fi.GoFunc.Call(ctx, stack)
	case FunctionKindGoModuleFunc:
		fi.GoModuleFunc.Call(ctx, callCtx.Instance(), stack)
	}
	return stack[:len(fi.Type.Results)], nil
}

func (hostModuleEngine) LookupEntry(t *TableInstance, tableOffset uint32, expectedTypeID FunctionTypeID) (Index, error) {
	return 0, errors.New("host modules do not support call_indirect")
}

// RegisterHostModule instantiates a host module built without any bytecode
// directly into ns, bypassing Namespace.Instantiate (there is no *Module to
// decode imports against). Returns the same "already instantiated" error
// Instantiate would on a name collision.
func (ns *Namespace) RegisterHostModule(inst *ModuleInstance) error {
	ns.mux.Lock()
	defer ns.mux.Unlock()
	if _, ok := ns.modules[inst.Name]; ok {
		return errors.Errorf("module %q already instantiated in this namespace", inst.Name)
	}
	ns.modules[inst.Name] = inst
	ns.nameOrder = append(ns.nameOrder, inst.Name)
	return nil
}
