package wazgo

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/api"
	"github.com/wazgo/wazgo/internal/engine/interpreter"
	"github.com/wazgo/wazgo/internal/wasm"
	"github.com/wazgo/wazgo/internal/wasm/binary"
	wazgosys "github.com/wazgo/wazgo/sys"
)

// Runtime allows decoding, compiling and instantiating WebAssembly modules,
// plus defining host modules in Go (wazgo.HostModuleBuilder).
//
// # Notes
//
//   - Runtime is not goroutine-safe for concurrent CompileModule /
//     InstantiateModule calls against the same Runtime: the internal
//     Namespace serializes them, but callers sharing one Runtime across
//     goroutines should not assume ordering.
//   - Closing a Runtime does not close the Modules it instantiated; each
//     stays usable until its own Close.
type Runtime interface {
	// NewHostModuleBuilder starts defining host functions exported under
	// moduleName, for example "env" or "wasi_snapshot_preview1".
	NewHostModuleBuilder(moduleName string) HostModuleBuilder

	// CompileModule decodes and validates the WebAssembly binary (%.wasm),
	// ahead of instantiation. This can be instantiated multiple times via
	// InstantiateModule.
	CompileModule(ctx context.Context, binary []byte) (CompiledModule, error)

	// InstantiateModule instantiates the module and calls any configured
	// start functions.
	InstantiateModule(ctx context.Context, compiled CompiledModule, config *ModuleConfig) (api.Module, error)

	// Close releases this Runtime and returns nil. It does not close the
	// modules that have been instantiated by this Runtime.
	Close(ctx context.Context) error
	api.Closer
}

// runtime implements Runtime.
type runtime struct {
	store           *wasm.Store
	ns              *wasm.Namespace
	enabledFeatures wasm.Features
	memoryMaxPages  uint32
}

// NewRuntime returns a Runtime with the default configuration (Tier-1
// interpreter only, WebAssembly 1.0 features; spec.md §5's hotness-driven
// promotion to Tier-2/3 is wired in by NewRuntimeWithConfig when those tiers
// are enabled).
func NewRuntime(ctx context.Context) Runtime {
	return NewRuntimeWithConfig(ctx, NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a Runtime configured per the given
// RuntimeConfig.
func NewRuntimeWithConfig(_ context.Context, rConfig *RuntimeConfig) Runtime {
	config := rConfig
	if config == nil {
		config = NewRuntimeConfig()
	}
	eng := config.newEngine(config.enabledFeatures)
	if config.cache != nil {
		if fc := fileCacheOf(config.cache); fc != nil {
			if ce, ok := eng.(cacheableEngine); ok {
				ce.SetCache(fc)
			}
		}
	}
	store, ns := wasm.NewStore(config.enabledFeatures, eng)
	return &runtime{store: store, ns: ns, enabledFeatures: config.enabledFeatures, memoryMaxPages: config.memoryMaxPages}
}

// CompileModule implements Runtime.CompileModule.
func (r *runtime) CompileModule(ctx context.Context, b []byte) (CompiledModule, error) {
	m, err := binary.DecodeModule(b, r.enabledFeatures, r.memoryMaxPages)
	if err != nil {
		return nil, err
	}
	if err := r.store.Engine.CompileModule(ctx, m); err != nil {
		return nil, err
	}
	return &compiledModule{r: r, module: m}, nil
}

// InstantiateModule implements Runtime.InstantiateModule.
func (r *runtime) InstantiateModule(ctx context.Context, compiled CompiledModule, config *ModuleConfig) (api.Module, error) {
	cm, ok := compiled.(*compiledModule)
	if !ok {
		return nil, errors.New("wazgo: compiled was not created by this Runtime")
	}
	if config == nil {
		config = NewModuleConfig()
	}

	if cm.hostName != "" {
		return r.instantiateHostModule(cm, config)
	}

	m := config.replaceImports(cm.module)
	var name string
	if m.NameSection != nil {
		name = m.NameSection.ModuleName
	}
	if config.name != "" {
		name = config.name
	}

	sysCtx := config.toSystemContext()
	inst, err := r.ns.Instantiate(ctx, m, name, sysCtx)
	if err != nil {
		return nil, err
	}
	for _, fn := range config.startFunctions {
		if f := inst.ExportedFunction(fn); f != nil {
			if _, err := f.Call(ctx); err != nil {
				// A *wazgosys.ExitError (from proc_exit, or the embedder
				// closing the module from within a host function) is
				// returned as-is so callers can recover the guest's exit
				// code with errors.As; anything else gets wrapped.
				var exitErr *wazgosys.ExitError
				if errors.As(err, &exitErr) {
					return nil, exitErr
				}
				return nil, errors.Wrapf(err, "calling start function %q", fn)
			}
		}
	}
	return inst, nil
}

func (r *runtime) instantiateHostModule(cm *compiledModule, config *ModuleConfig) (api.Module, error) {
	name := cm.hostName
	if config.name != "" {
		name = config.name
	}
	inst, err := wasm.NewHostModuleInstance(name, cm.hostExportNames, cm.hostFuncs, cm.hostMemory)
	if err != nil {
		return nil, err
	}
	if err := r.ns.RegisterHostModule(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Close implements Runtime.Close and api.Closer.
func (r *runtime) Close(context.Context) error { return nil }

// CompiledModule is a compiled, not yet instantiated, WebAssembly module
// (core or host). It is produced by Runtime.CompileModule or
// HostModuleBuilder.Compile and consumed by Runtime.InstantiateModule.
type CompiledModule interface {
	// Close releases resources held by this CompiledModule, notably the
	// compiled tiers' cached state in the owning Engine.
	Close(ctx context.Context) error
}

// compiledModule implements CompiledModule for both core-wasm modules
// (module set) and host modules (hostName set).
type compiledModule struct {
	r      *runtime
	module *wasm.Module

	hostName        string
	hostExportNames []string
	hostFuncs       map[string]*wasm.HostFunc
	hostMemory      map[string]*wasm.MemoryType
}

func (c *compiledModule) Close(context.Context) error {
	if c.module != nil {
		c.r.store.Engine.DeleteCompiledModule(c.module)
	}
	return nil
}

// Stats returns per-function tier/invocation-count snapshots for a module
// compiled against a tiered runtime (NewRuntimeConfigTiered), for the CLI's
// --profile flag (SPEC_FULL §6.3). It returns nil for a Runtime/CompiledModule
// pair this wasn't built from, or a CompiledModule already closed. With the
// plain Tier-1-only NewRuntimeConfig every function reports Tier 1.
func Stats(r Runtime, cm CompiledModule) []interpreter.FunctionStats {
	rt, ok := r.(*runtime)
	if !ok {
		return nil
	}
	c, ok := cm.(*compiledModule)
	if !ok || c.module == nil {
		return nil
	}
	eng, ok := rt.store.Engine.(*interpreter.Engine)
	if !ok {
		return nil
	}
	return eng.Stats(c.module)
}
