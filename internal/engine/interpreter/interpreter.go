// Package interpreter is the Tier-1 execution engine (spec.md §4.4): a
// single-threaded, direct-threaded loop dispatching over the predecoder's
// fixed-width instruction stream. It is always available (the fallback
// every module starts on) and is the promotion source for Tier-2/3.
package interpreter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/internal/compilationcache"
	"github.com/wazgo/wazgo/internal/engine/regirvm"
	"github.com/wazgo/wazgo/internal/jit"
	"github.com/wazgo/wazgo/internal/predecode"
	"github.com/wazgo/wazgo/internal/regir"
	"github.com/wazgo/wazgo/internal/tracelog"
	"github.com/wazgo/wazgo/internal/wasm"
)

// HotThreshold is the invocation count after which a function becomes a
// candidate for promotion to a higher tier (spec.md §4.4).
const HotThreshold = 100

var log = tracelog.For("exec")

type compiledFunction struct {
	instrs    []predecode.Instr
	pool64    []uint64
	numLocal  int
	numParams int
	results   []wasm.ValueType
	params    []wasm.ValueType
	// funcTypes is the owning module's type section, threaded through to
	// promoteToTier2 so regir.Compile can resolve call target arities.
	funcTypes []*wasm.FunctionType
	// unsupported is set when predecoding bailed out on a SIMD opcode
	// (spec.md §4.2 step 7); calling such a function always traps, since no
	// tier in this build executes vector instructions.
	unsupported bool

	// codeIndex is this function's position in Module.CodeSection, passed
	// to the promote hook (spec.md §4.4's promotion is keyed by code-section
	// index, not the imports-first function namespace index).
	codeIndex wasm.Index

	invocations atomic.Uint64

	// tier2 holds this function's register IR once promoted (spec.md
	// §4.5); nil means it still runs on Tier-1. Swapped in with a single
	// atomic store, matching §4.4's "single-threaded: just a store".
	tier2 atomic.Pointer[regir.RegFunc]

	// tier3 holds this function's compiled native machine code once the
	// JIT accepts it (spec.md §4.6); nil means it hasn't been attempted or
	// was rejected, and run() falls back to tier2/tier1.
	tier3 atomic.Pointer[jit.Code]
	// tier3Tried marks that promotion to tier3 was attempted, so a
	// rejection isn't retried on every subsequent invocation.
	tier3Tried atomic.Bool
}

type compiledModule struct {
	functions []*compiledFunction // index-aligned with Module.CodeSection
}

// Engine is the Tier-1 Engine implementation.
type Engine struct {
	mu       sync.Mutex
	compiled map[*wasm.Module]*compiledModule
	// promote, when set, is an optional external callback called once a
	// function crosses HotThreshold (spec.md §4.4's promotion hook); its
	// return value is not used. Promotion to Tier-2 and Tier-3 is governed
	// by tier2 and tier3, not by this hook.
	promote func(m *wasm.Module, funcIdx wasm.Index) bool
	// tier2 enables in-place promotion to the RegIR interpreter
	// (spec.md §4.5) once a function crosses HotThreshold.
	tier2 bool
	// tier3 enables in-place promotion to the ARM64 JIT (spec.md §4.6)
	// once a function's register IR is available; has no effect on a
	// GOARCH the JIT doesn't target (platform.JITSupported is false).
	tier3 bool
	// cache, when set, persists and reuses the predecoded stream across
	// CompileModule calls keyed by the module's own content hash (spec.md
	// §4.10). nil disables caching.
	cache compilationcache.Cache
}

// SetCache attaches an external compilation cache. CompileModule consults
// it before predecoding each function and populates it on a miss; it is
// safe to leave unset, which disables caching entirely.
func (e *Engine) SetCache(cache compilationcache.Cache) { e.cache = cache }

// NewEngine constructs a Tier-1-only Engine: every function stays on the
// direct-threaded interpreter for its whole life. promote may be nil.
func NewEngine(promote func(m *wasm.Module, funcIdx wasm.Index) bool) *Engine {
	return &Engine{compiled: map[*wasm.Module]*compiledModule{}, promote: promote}
}

// NewTieredEngine constructs an Engine that promotes hot functions to the
// Tier-2 RegIR interpreter (spec.md §4.5) once they cross HotThreshold, and
// on to the Tier-3 ARM64 JIT (spec.md §4.6) where the host supports it.
func NewTieredEngine() *Engine {
	return &Engine{compiled: map[*wasm.Module]*compiledModule{}, tier2: true, tier3: true}
}

func (e *Engine) CompileModule(ctx context.Context, m *wasm.Module) error {
	key := contentKey(m)
	cached, cacheHit := e.loadCached(key)
	if cacheHit && len(cached) != len(m.CodeSection) {
		log.Debug("compilation cache entry has the wrong function count; ignoring")
		cached, cacheHit = nil, false
	}

	cm := &compiledModule{functions: make([]*compiledFunction, len(m.CodeSection))}
	toStore := make([]cachedFunc, len(m.CodeSection))
	for i, fn := range m.CodeSection {
		t := m.TypeSection[fn.TypeIndex]

		var pf *predecode.Function
		unsupported := false
		if cacheHit {
			cf := cached[i]
			unsupported = cf.Unsupported
			if !unsupported {
				pf = &predecode.Function{Instrs: cf.Instrs, Pool64: cf.Pool64, NumLocal: cf.NumLocal}
			}
		} else {
			var err error
			pf, err = predecode.Predecode(fn.Body, len(t.Params), fn.LocalTypes, m.TypeSection)
			if errors.Is(err, predecode.ErrUnsupported) {
				log.WithField("func", i).Debug("predecode bailed out on a SIMD opcode; calls will trap")
				unsupported = true
			} else if err != nil {
				return errors.Wrapf(err, "predecoding function %d", i)
			}
		}

		if unsupported {
			cm.functions[i] = &compiledFunction{unsupported: true, params: t.Params, results: t.Results, codeIndex: wasm.Index(i)}
			toStore[i] = cachedFunc{Unsupported: true}
			continue
		}
		cm.functions[i] = &compiledFunction{
			instrs: pf.Instrs, pool64: pf.Pool64, numLocal: pf.NumLocal,
			numParams: len(t.Params), params: t.Params, results: t.Results,
			codeIndex: wasm.Index(i), funcTypes: m.TypeSection,
		}
		toStore[i] = cachedFunc{Instrs: pf.Instrs, Pool64: pf.Pool64, NumLocal: pf.NumLocal}
	}
	e.mu.Lock()
	e.compiled[m] = cm
	e.mu.Unlock()

	if e.cache != nil && !cacheHit {
		e.storeCached(key, toStore)
	}
	return nil
}

// promoteToTier2 lowers cf's predecoded body to register IR and, on
// success, swaps it in; a function whose shape regir.Compile rejects
// (spec.md §4.3's documented bail-out cases) stays pinned to Tier-1.
func (e *Engine) promoteToTier2(cf *compiledFunction) {
	if cf.unsupported || cf.tier2.Load() != nil {
		return
	}
	pf := &predecode.Function{Instrs: cf.instrs, Pool64: cf.pool64, NumLocal: cf.numLocal}
	rf, err := regir.Compile(pf, cf.numParams, cf.results, cf.funcTypes)
	if err != nil {
		log.WithField("func", cf.codeIndex).WithError(err).Debug("tier-2 promotion declined; staying on tier-1")
		return
	}
	cf.tier2.Store(rf)
}

// promoteToTier3 compiles cf's register IR to native ARM64 machine code and,
// on success, swaps it in. It requires cf to already be on tier2: the JIT
// lowers RegIR, not the predecoded stream directly. A rejection (unsupported
// shape, or a non-ARM64 host) is recorded so run() doesn't retry every call.
func (e *Engine) promoteToTier3(cf *compiledFunction) {
	if cf.tier3Tried.Swap(true) {
		return
	}
	rf := cf.tier2.Load()
	if rf == nil {
		return
	}
	code, err := jit.Compile(rf)
	if err != nil {
		log.WithField("func", cf.codeIndex).WithError(err).Debug("tier-3 promotion declined; staying on tier-2")
		return
	}
	cf.tier3.Store(code)
}

func (e *Engine) DeleteCompiledModule(m *wasm.Module) {
	e.mu.Lock()
	delete(e.compiled, m)
	e.mu.Unlock()
}

// FunctionStats is one function's invocation count and current tier,
// reported by Stats for the CLI's --profile flag.
type FunctionStats struct {
	CodeIndex   wasm.Index
	Invocations uint64
	Tier        int
}

// Stats returns a snapshot of every function's invocation count and tier
// for m, or nil if m was never compiled by this Engine (or was evicted via
// DeleteCompiledModule).
func (e *Engine) Stats(m *wasm.Module) []FunctionStats {
	e.mu.Lock()
	cm, ok := e.compiled[m]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	stats := make([]FunctionStats, len(cm.functions))
	for i, cf := range cm.functions {
		tier := 1
		if cf.tier2.Load() != nil {
			tier = 2
		}
		if cf.tier3.Load() != nil {
			tier = 3
		}
		stats[i] = FunctionStats{CodeIndex: cf.codeIndex, Invocations: cf.invocations.Load(), Tier: tier}
	}
	return stats
}

func (e *Engine) NewModuleEngine(m *wasm.Module, instance *wasm.ModuleInstance) (wasm.ModuleEngine, error) {
	e.mu.Lock()
	cm, ok := e.compiled[m]
	e.mu.Unlock()
	if !ok {
		return nil, errors.New("interpreter: module was not compiled")
	}
	return &moduleEngine{engine: e, module: m, compiled: cm, instance: instance}, nil
}

var (
	_ wasm.Engine       = (*Engine)(nil)
	_ wasm.ModuleEngine = (*moduleEngine)(nil)
)

type moduleEngine struct {
	engine   *Engine
	module   *wasm.Module
	compiled *compiledModule
	instance *wasm.ModuleInstance
}

// localFuncIndex converts a function-namespace index (imports first) into
// the local CodeSection index this engine compiled, or -1 if index refers
// to an imported function.
func (me *moduleEngine) localFuncIndex(index wasm.Index) int {
	importCount := wasm.Index(len(me.instance.Functions) - len(me.compiled.functions))
	if index < importCount {
		return -1
	}
	return int(index - importCount)
}

func (me *moduleEngine) Call(ctx context.Context, callCtx *wasm.CallContext, index wasm.Index, params []uint64) ([]uint64, error) {
	fi := me.instance.Functions[index]
	if fi.Kind != wasm.FunctionKindWasm {
		return me.callHost(ctx, callCtx, fi, params)
	}
	li := me.localFuncIndex(index)
	if li < 0 {
		// The function was imported from another engine/tier; delegate to
		// its defining instance's engine.
		return fi.Module.Engine.Call(ctx, callCtx, fi.Idx, params)
	}
	cf := me.compiled.functions[li]
	if cf.unsupported {
		return nil, wasm.ErrUnreachable
	}
	return me.run(ctx, callCtx, cf, params)
}

func (me *moduleEngine) callHost(ctx context.Context, callCtx *wasm.CallContext, fi *wasm.FunctionInstance, params []uint64) ([]uint64, error) {
	n := len(fi.Type.Params)
	if r := len(fi.Type.Results); r > n {
		n = r
	}
	stack := make([]uint64, n)
	copy(stack, params)
	switch fi.Kind {
	case wasm.FunctionKindGoFunc:
		fi.GoFunc.Call(ctx, stack)
	case wasm.FunctionKindGoModuleFunc:
		fi.GoModuleFunc.Call(ctx, callCtx.Instance(), stack)
	}
	return stack[:len(fi.Type.Results)], nil
}

// maxCallDepth bounds recursion to satisfy spec.md §4.7's "implementation-
// defined depth limit"; exceeding it traps with StackOverflow.
const maxCallDepth = 8192

type callDepthKey struct{}

func (me *moduleEngine) run(ctx context.Context, callCtx *wasm.CallContext, cf *compiledFunction, params []uint64) ([]uint64, error) {
	depth, _ := ctx.Value(callDepthKey{}).(int)
	if depth >= maxCallDepth {
		return nil, wasm.ErrStackOverflow
	}
	ctx = context.WithValue(ctx, callDepthKey{}, depth+1)

	if cf.invocations.Add(1) == HotThreshold {
		if me.engine.tier2 {
			me.engine.promoteToTier2(cf)
		}
		if me.engine.promote != nil {
			me.engine.promote(me.module, cf.codeIndex)
		}
	}
	if me.engine.tier3 && cf.tier2.Load() != nil && !cf.tier3Tried.Load() {
		me.engine.promoteToTier3(cf)
	}

	if code := cf.tier3.Load(); code != nil {
		regs := make([]uint64, cf.tier2.Load().NumRegs)
		copy(regs, params)
		if trap := code.Invoke(regs); trap != 0 {
			return nil, wasm.ErrUnreachable
		}
		rf := cf.tier2.Load()
		out := make([]uint64, len(rf.ResultRegs))
		for i, r := range rf.ResultRegs {
			out[i] = regs[r]
		}
		return out, nil
	}

	if rf := cf.tier2.Load(); rf != nil {
		inst := callCtx.Instance()
		return regirvm.Run(ctx, rf, params, inst.Globals, inst.Mem, func(ctx context.Context, index wasm.Index, args []uint64) ([]uint64, error) {
			return me.Call(ctx, callCtx, index, args)
		})
	}

	locals := make([]uint64, cf.numLocal)
	copy(locals, params)
	fr := &vmFrame{
		locals: locals,
		stack:  make([]uint64, 0, 16),
		instrs: cf.instrs,
		pool64: cf.pool64,
	}
	if err := me.exec(ctx, callCtx, fr); err != nil {
		return nil, err
	}
	nr := len(cf.results)
	if len(fr.stack) < nr {
		return nil, errors.Wrap(wasm.ErrTrap, "operand stack underflow at function exit")
	}
	return fr.stack[len(fr.stack)-nr:], nil
}

type vmFrame struct {
	locals []uint64
	stack  []uint64
	instrs []predecode.Instr
	pool64 []uint64
	pc     int
}

func (f *vmFrame) push(v uint64)   { f.stack = append(f.stack, v) }
func (f *vmFrame) pop() uint64 {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}
func (f *vmFrame) top() uint64 { return f.stack[len(f.stack)-1] }

// branch discards every operand-stack value except the topmost `arity`
// (the exited block's or loop's carried values) and sets pc to target
// (spec.md §4.4: "pops operand-stack values above the branch's arity,
// then re-pushes the arity-sized topmost values").
func (f *vmFrame) branch(target int, arity int) {
	if arity > len(f.stack) {
		arity = len(f.stack)
	}
	keep := append([]uint64{}, f.stack[len(f.stack)-arity:]...)
	f.stack = append(f.stack[:0], keep...)
	f.pc = target
}
