package wasm

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/api"
	closepkg "github.com/wazgo/wazgo/internal/close"
	"github.com/wazgo/wazgo/sys"
)

// FunctionInstance is a function belonging to a module instance, either
// defined by Wasm bytecode (Kind == FunctionKindWasm) or backed by a Go
// host function (spec.md §4.8).
type FunctionInstance struct {
	Kind       FunctionKind
	Type       *FunctionType
	TypeID     FunctionTypeID
	LocalTypes []ValueType // wasm functions only
	Body       []byte      // wasm functions only

	GoFunc       api.GoFunction
	GoModuleFunc api.GoModuleFunction

	Module      *ModuleInstance
	Idx         Index
	name        string
	exportNames []string
}

type FunctionKind byte

const (
	FunctionKindWasm FunctionKind = iota
	FunctionKindGoFunc
	FunctionKindGoModuleFunc
)

func (f *FunctionInstance) DebugName() string {
	if f.name != "" {
		return f.Module.Name + "." + f.name
	}
	return f.Module.Name + ".$" + itoa(f.Idx)
}

func itoa(i Index) string {
	if i == 0 {
		return "0"
	}
	var buf [10]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// GlobalInstance is a global belonging to a module instance. Val holds the
// bit pattern for i32/i64/f32/f64/funcref/externref uniformly; there is no
// storage for a v128 global.
type GlobalInstance struct {
	Type *GlobalType
	Val  uint64
	mu   sync.RWMutex
}

func (g *GlobalInstance) Get() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Val
}

func (g *GlobalInstance) Set(v uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Val = v
}

// ExportInstance is a resolved export: exactly one of the pointer fields
// is meaningful, selected by Type.
type ExportInstance struct {
	Type     ExternType
	Function *FunctionInstance
	Global   *GlobalInstance
	Memory   *MemoryInstance
	Table    *TableInstance
}

// DataInstance is the runtime form of a data segment: for an active
// segment it's already been applied and this slice is kept only so
// data.drop / repeated memory.init can still see it; for a passive
// segment it's live until data.drop nils it out.
type DataInstance []byte

// ElementInstance is the runtime form of a passive or declarative element
// segment, analogous to DataInstance.
type ElementInstance struct {
	Type RefType
	Refs []int64
}

// ModuleInstance is one instantiation of a Module (spec.md §4.7): resolved
// imports plus this module's own definitions, indexed the same way the
// binary format does (imports first).
type ModuleInstance struct {
	Name    string
	Exports map[string]*ExportInstance

	Functions []*FunctionInstance
	Globals   []*GlobalInstance
	Mem       *MemoryInstance
	Tables    []*TableInstance
	Types     []*FunctionType
	TypeIDs   []FunctionTypeID

	DataInstances    []DataInstance
	ElementInstances []*ElementInstance

	Engine   ModuleEngine
	CallCtx  *CallContext
	closed   bool
	exitCode uint32
}

// Namespace groups module instances that can import from each other by
// name. nameOrder records instantiation order; Namespace has no Close, so
// its instances are closed one by one (spec.md §4.9).
type Namespace struct {
	mux       sync.Mutex
	store     *Store
	modules   map[string]*ModuleInstance
	nameOrder []string
}

// Store owns the FunctionTypeID interning table and the Engine used to
// compile and run every module instantiated through it (spec.md §4.7).
type Store struct {
	mux             sync.Mutex
	EnabledFeatures Features
	Engine          Engine
	typeIDs         map[string]FunctionTypeID
}

// NewStore creates a Store bound to one Engine (one execution tier) and an
// initial empty Namespace.
func NewStore(enabledFeatures Features, engine Engine) (*Store, *Namespace) {
	s := &Store{EnabledFeatures: enabledFeatures, Engine: engine, typeIDs: map[string]FunctionTypeID{}}
	ns := &Namespace{store: s, modules: map[string]*ModuleInstance{}}
	return s, ns
}

func (s *Store) getFunctionTypeIDs(ts []*FunctionType) ([]FunctionTypeID, error) {
	ret := make([]FunctionTypeID, len(ts))
	for i, t := range ts {
		id, err := s.getFunctionTypeID(t)
		if err != nil {
			return nil, err
		}
		ret[i] = id
	}
	return ret, nil
}

func (s *Store) getFunctionTypeID(t *FunctionType) (FunctionTypeID, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	key := t.String()
	if id, ok := s.typeIDs[key]; ok {
		return id, nil
	}
	id := FunctionTypeID(len(s.typeIDs))
	if uint64(id) >= maximumFunctionTypes {
		return 0, errors.New("too many distinct function signatures")
	}
	s.typeIDs[key] = id
	return id, nil
}

// NewNamespace creates a fresh, empty Namespace sharing this Store's type
// interning table and Engine.
func (s *Store) NewNamespace() *Namespace {
	return &Namespace{store: s, modules: map[string]*ModuleInstance{}}
}

// Instantiate resolves m's imports against already-instantiated modules in
// ns, builds every runtime structure, applies element/data segments, and
// executes the start function if present (spec.md §4.7's instantiation
// algorithm).
func (ns *Namespace) Instantiate(ctx context.Context, m *Module, name string, sys SystemContext) (*ModuleInstance, error) {
	ns.mux.Lock()
	defer ns.mux.Unlock()

	if _, ok := ns.modules[name]; ok {
		return nil, errors.Errorf("module %q already instantiated in this namespace", name)
	}

	typeIDs, err := ns.store.getFunctionTypeIDs(m.TypeSection)
	if err != nil {
		return nil, err
	}

	importedFunctions, importedGlobals, importedMemory, importedTables, err := ns.resolveImports(m)
	if err != nil {
		return nil, err
	}

	inst := &ModuleInstance{
		Name:    name,
		Exports: map[string]*ExportInstance{},
		Types:   m.TypeSection,
		TypeIDs: typeIDs,
	}

	inst.Globals = append(append([]*GlobalInstance{}, importedGlobals...), buildGlobals(m, importedGlobals)...)
	inst.Tables = append(append([]*TableInstance{}, importedTables...), buildTables(m)...)

	if importedMemory != nil {
		inst.Mem = importedMemory
	} else if len(m.MemorySection) > 0 {
		inst.Mem = NewMemoryInstance(&m.MemorySection[0].Type)
	}

	inst.Functions = append(append([]*FunctionInstance{}, importedFunctions...), buildFunctions(m, inst, typeIDs)...)

	if err := inst.buildExports(m); err != nil {
		return nil, err
	}

	elemInstances, err := buildElementInstances(m, inst)
	if err != nil {
		return nil, err
	}
	inst.ElementInstances = elemInstances
	inst.DataInstances = buildDataInstances(m)

	engine, err := ns.store.Engine.NewModuleEngine(m, inst)
	if err != nil {
		return nil, err
	}
	inst.Engine = engine
	inst.CallCtx = NewCallContext(withSystemContext(ctx, sys), inst)

	if err := inst.applyElements(m); err != nil {
		return nil, err
	}
	if err := inst.applyData(m); err != nil {
		return nil, err
	}

	if m.StartSection != nil {
		if _, err := engine.Call(inst.CallCtx.Context(), inst.CallCtx, *m.StartSection, nil); err != nil {
			return nil, err
		}
	}

	ns.modules[name] = inst
	ns.nameOrder = append(ns.nameOrder, name)
	return inst, nil
}

// resolveImports looks each import up in already-instantiated modules of
// this namespace, checking signature/limits compatibility (spec.md §4.8).
func (ns *Namespace) resolveImports(m *Module) (funcs []*FunctionInstance, globals []*GlobalInstance, memory *MemoryInstance, tables []*TableInstance, err error) {
	for _, imp := range m.ImportSection {
		provider, ok := ns.modules[imp.Module]
		if !ok {
			return nil, nil, nil, nil, errors.Wrapf(ErrImportNotFound, "module %q not instantiated", imp.Module)
		}
		exp, ok := provider.Exports[imp.Name]
		if !ok || exp.Type != imp.Type {
			return nil, nil, nil, nil, errors.Wrapf(ErrImportNotFound, "%s.%s", imp.Module, imp.Name)
		}
		switch imp.Type {
		case ExternTypeFunc:
			want := m.TypeSection[imp.DescFunc]
			if !exp.Function.Type.EqualsSignature(want.Params, want.Results) {
				return nil, nil, nil, nil, errors.Wrapf(ErrInvalidModule, "signature mismatch importing function %s.%s", imp.Module, imp.Name)
			}
			funcs = append(funcs, exp.Function)
		case ExternTypeGlobal:
			if exp.Global.Type.ValType != imp.DescGlobal.ValType || exp.Global.Type.Mutable != imp.DescGlobal.Mutable {
				return nil, nil, nil, nil, errors.Wrapf(ErrInvalidModule, "type mismatch importing global %s.%s", imp.Module, imp.Name)
			}
			globals = append(globals, exp.Global)
		case ExternTypeMemory:
			if err := subsumes(exp.Memory.Min, exp.Memory.Max, imp.DescMem.Limits); err != nil {
				return nil, nil, nil, nil, errors.Wrapf(err, "importing memory %s.%s", imp.Module, imp.Name)
			}
			memory = exp.Memory
		case ExternTypeTable:
			if exp.Table.Type != imp.DescTable.ElemType {
				return nil, nil, nil, nil, errors.Wrapf(ErrInvalidModule, "elem type mismatch importing table %s.%s", imp.Module, imp.Name)
			}
			tables = append(tables, exp.Table)
		case ExternTypeTag:
			// Tags carry no runtime representation; importing one is a
			// structural no-op (spec.md's exception-handling subset).
		}
	}
	return
}

func subsumes(actualMin, actualMax uint32, want Limits) error {
	if actualMin < want.Min {
		return errors.Errorf("actual min %d is less than required min %d", actualMin, want.Min)
	}
	if want.Max != nil && actualMax > *want.Max {
		return errors.Errorf("actual max %d exceeds required max %d", actualMax, *want.Max)
	}
	return nil
}

func buildGlobals(m *Module, importedGlobals []*GlobalInstance) []*GlobalInstance {
	out := make([]*GlobalInstance, len(m.GlobalSection))
	for i, g := range m.GlobalSection {
		out[i] = &GlobalInstance{Type: &g.Type, Val: evalConstExprAsUint64(g.Init, importedGlobals)}
	}
	return out
}

func buildTables(m *Module) []*TableInstance {
	out := make([]*TableInstance, len(m.TableSection))
	for i, t := range m.TableSection {
		out[i] = NewTableInstance(&t.Type)
	}
	return out
}

func buildFunctions(m *Module, inst *ModuleInstance, typeIDs []FunctionTypeID) []*FunctionInstance {
	out := make([]*FunctionInstance, len(m.CodeSection))
	for i, f := range m.CodeSection {
		out[i] = &FunctionInstance{
			Kind:       FunctionKindWasm,
			Type:       m.TypeSection[f.TypeIndex],
			TypeID:     typeIDs[f.TypeIndex],
			LocalTypes: f.LocalTypes,
			Body:       f.Body,
			Module:     inst,
			Idx:        Index(len(inst.Functions) + i),
		}
	}
	return out
}

func (inst *ModuleInstance) buildExports(m *Module) error {
	for _, exp := range m.ExportSection {
		var ei *ExportInstance
		switch exp.Type {
		case ExternTypeFunc:
			ei = &ExportInstance{Type: exp.Type, Function: inst.Functions[exp.Index]}
			inst.Functions[exp.Index].exportNames = append(inst.Functions[exp.Index].exportNames, exp.Name)
		case ExternTypeGlobal:
			ei = &ExportInstance{Type: exp.Type, Global: inst.Globals[exp.Index]}
		case ExternTypeMemory:
			ei = &ExportInstance{Type: exp.Type, Memory: inst.Mem}
		case ExternTypeTable:
			ei = &ExportInstance{Type: exp.Type, Table: inst.Tables[exp.Index]}
		default:
			continue
		}
		inst.Exports[exp.Name] = ei
	}
	return nil
}

func buildElementInstances(m *Module, inst *ModuleInstance) ([]*ElementInstance, error) {
	out := make([]*ElementInstance, len(m.ElementSection))
	for i, e := range m.ElementSection {
		if e.Mode == ElementModePassive {
			out[i] = &ElementInstance{Type: e.Type, Refs: append([]int64{}, e.Init...)}
		}
	}
	return out, nil
}

func buildDataInstances(m *Module) []DataInstance {
	out := make([]DataInstance, len(m.DataSection))
	for i, d := range m.DataSection {
		if d.IsPassive() {
			out[i] = append([]byte{}, d.Init...)
		}
	}
	return out
}

// applyElements copies each active element segment's function indices
// into its target table (spec.md §4.7).
func (inst *ModuleInstance) applyElements(m *Module) error {
	for i, e := range m.ElementSection {
		if e.Mode != ElementModeActive {
			continue
		}
		offset := evalConstExprAsUint64(e.OffsetExpr, inst.Globals)
		table := inst.Tables[e.TableIndex]
		if uint64(offset)+uint64(len(e.Init)) > uint64(len(table.Elements)) {
			return errors.Wrapf(ErrInvalidModule, "element[%d]: out of bounds table initializer", i)
		}
		copy(table.Elements[offset:], e.Init)
	}
	return nil
}

// applyData copies each active data segment into linear memory.
func (inst *ModuleInstance) applyData(m *Module) error {
	for i, d := range m.DataSection {
		if d.Mode != DataModeActive {
			continue
		}
		offset := evalConstExprAsUint64(d.OffsetExpr, inst.Globals)
		if inst.Mem == nil || !inst.Mem.Write(offset, d.Init) {
			return errors.Wrapf(ErrInvalidModule, "data[%d]: out of bounds memory initializer", i)
		}
	}
	return nil
}

// evalConstExprAsUint64 evaluates the restricted init-expression opcode
// set against already-resolved imported globals (spec.md §3 Invariants:
// global.get in an init expression may only reference an imported
// global).
func evalConstExprAsUint64(expr *ConstantExpression, globals []*GlobalInstance) uint64 {
	if expr == nil {
		return 0
	}
	switch expr.Opcode {
	case OpcodeI32Const:
		v, _, _ := decodeI32(expr.Data)
		return uint64(uint32(v))
	case OpcodeI64Const:
		v, _, _ := decodeI64(expr.Data)
		return uint64(v)
	case OpcodeF32Const:
		return uint64(le32(expr.Data))
	case OpcodeF64Const:
		return le64(expr.Data)
	case OpcodeGlobalGet:
		idx, _, _ := decodeU32(expr.Data)
		return globals[idx].Get()
	case OpcodeRefNull:
		return uint64(GlobalInstanceNullFuncRefValue)
	case OpcodeRefFunc:
		v, _, _ := decodeU32(expr.Data)
		return uint64(v)
	}
	return 0
}

// CloseWithExitCode marks inst closed and records exitCode for
// FailIfClosed; it frees no memory and does not evict the compiled module
// (CompiledModule.Close does that). If the call context carries a close.Notification
// (set by the embedder via context.WithValue(ctx, close.NotificationKey{},
// ...)), it is invoked with exitCode.
func (inst *ModuleInstance) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	if inst.closed {
		return nil
	}
	inst.closed = true
	inst.exitCode = exitCode
	if n, ok := ctx.Value(closepkg.NotificationKey{}).(closepkg.Notification); ok {
		n.OnClose(ctx, exitCode)
	}
	return nil
}

// FailIfClosed returns a *sys.ExitError carrying the exit code CloseWithExitCode
// was given, if inst has been closed; otherwise nil. functionView.Call checks
// this after every invocation so a guest's proc_exit (or an embedder closing
// the module from a host function) surfaces as an error to the caller even
// though the call itself returned normally up to that point.
func (inst *ModuleInstance) FailIfClosed() error {
	if inst.closed {
		return sys.NewExitError(inst.exitCode)
	}
	return nil
}
