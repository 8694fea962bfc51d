package wasm

import "context"

// FunctionTypeID is an interned handle for a FunctionType, unique within
// one Store (spec.md §4.7's call_indirect type check: compare IDs, never
// structurally compare FunctionTypes at call time).
type FunctionTypeID uint32

// maximumFunctionTypes bounds how many distinct signatures a Store will
// intern before giving up; no real module approaches it.
const maximumFunctionTypes = 1 << 27

// Engine compiles Modules ahead of the Store creating any instance, and
// mints a ModuleEngine per instantiation. Each tier (Tier-1 direct-
// threaded interpreter, Tier-2 register-IR interpreter, Tier-3 ARM64 JIT;
// spec.md §5) is a distinct Engine implementation behind this interface,
// so Store and above never branch on which tier is active.
type Engine interface {
	// CompileModule performs whatever ahead-of-time work this tier wants
	// (predecoding, register allocation, native code generation) and
	// caches the result keyed by m's identity.
	CompileModule(ctx context.Context, m *Module) error

	// NewModuleEngine binds a previously compiled Module to one
	// instantiation's imported functions and globals.
	NewModuleEngine(m *Module, instance *ModuleInstance) (ModuleEngine, error)

	// DeleteCompiledModule evicts m's compiled form, called by the root
	// package's CompiledModule.Close.
	DeleteCompiledModule(m *Module)
}

// ModuleEngine executes functions belonging to one module instance.
type ModuleEngine interface {
	// Call invokes the exported or host function at index with params
	// already validated against its signature, returning its results or a
	// *Error (ErrTrap, ErrOutOfBoundsMemoryAccess, etc).
	Call(ctx context.Context, callCtx *CallContext, index Index, params []uint64) ([]uint64, error)

	// LookupEntry resolves the function index stored in a table slot for a
	// call_indirect, verifying it against expectedTypeID (spec.md §4.7's
	// call_indirect invariant).
	LookupEntry(t *TableInstance, tableOffset uint32, expectedTypeID FunctionTypeID) (Index, error)
}

// CallContext carries the per-call ambient state a Go-implemented host
// function needs to interact back into the guest: the calling module
// instance (for memory/table/global access) plus the host context.Context
// threaded in from the public API.
type CallContext struct {
	ctx      context.Context
	instance *ModuleInstance
}

// NewCallContext constructs the ambient call state for one module
// instance. ctx is stored as-is; Context returns it unwrapped so host
// functions see exactly what the caller passed to Runtime.
func NewCallContext(ctx context.Context, instance *ModuleInstance) *CallContext {
	return &CallContext{ctx: ctx, instance: instance}
}

func (c *CallContext) Context() context.Context { return c.ctx }
func (c *CallContext) Instance() *ModuleInstance { return c.instance }

// WithContext returns a shallow copy of c with ctx replaced, used when a
// host function calls back into the guest with a derived context.
func (c *CallContext) WithContext(ctx context.Context) *CallContext {
	cp := *c
	cp.ctx = ctx
	return &cp
}
