package wazgo

import (
	"crypto/rand"
	"io"
	"strings"
	"time"

	"github.com/wazgo/wazgo/internal/engine/interpreter"
	"github.com/wazgo/wazgo/internal/wasm"
)

// RuntimeConfig controls runtime behavior, with the default implementation as NewRuntimeConfig.
type RuntimeConfig struct {
	enabledFeatures wasm.Features
	newEngine       func(wasm.Features) wasm.Engine
	memoryMaxPages  uint32
	cache           Cache
}

// engineLessConfig helps avoid copy/pasting the wrong defaults.
var engineLessConfig = &RuntimeConfig{
	enabledFeatures: wasm.Features20191205,
	memoryMaxPages:  wasm.MemoryMaxPages,
}

// clone ensures all fields are copied even if nil.
func (c *RuntimeConfig) clone() *RuntimeConfig {
	return &RuntimeConfig{
		enabledFeatures: c.enabledFeatures,
		newEngine:       c.newEngine,
		memoryMaxPages:  c.memoryMaxPages,
		cache:           c.cache,
	}
}

// NewRuntimeConfig returns a RuntimeConfig using the Tier-1 interpreter
// (spec.md §4.4), the only tier guaranteed to run on every GOARCH/GOOS.
func NewRuntimeConfig() *RuntimeConfig {
	ret := engineLessConfig.clone()
	ret.newEngine = func(wasm.Features) wasm.Engine { return interpreter.NewEngine(nil) }
	return ret
}

// NewRuntimeConfigTiered returns a RuntimeConfig that starts every function
// on the Tier-1 interpreter and promotes hot ones to the Tier-2 RegIR
// interpreter (spec.md §4.5) once they cross interpreter.HotThreshold, and
// from there to the Tier-3 ARM64 JIT (spec.md §4.6), which generates native
// code. On other GOARCH values the JIT declines every function and hot
// functions stay on Tier-2.
func NewRuntimeConfigTiered() *RuntimeConfig {
	ret := engineLessConfig.clone()
	ret.newEngine = func(wasm.Features) wasm.Engine { return interpreter.NewTieredEngine() }
	return ret
}

// WithCompilationCache attaches an external compilation cache (spec.md
// §4.10). CompileModule hashes the module's own bytecode with xxhash and
// uses that as the cache key: a hit skips predecoding the whole module, a
// miss predecodes normally and populates the cache afterward. Engines that
// don't support caching (anything but the Tier-1 interpreter, for now)
// silently ignore this.
func (c *RuntimeConfig) WithCompilationCache(cache Cache) *RuntimeConfig {
	ret := c.clone()
	ret.cache = cache
	return ret
}

// WithMemoryMaxPages reduces the maximum number of pages a module can define from 65536 pages (4GiB) to a lower value.
//
// Notes:
//   - If a module defines no memory max limit, Runtime.CompileModule sets max to this value.
//   - If a module defines a memory max larger than this amount, it will fail to compile (Runtime.CompileModule).
//   - Any "memory.grow" instruction that results in a larger value than this fails and returns -1 to the guest.
//   - Zero is a valid value: a module memory that declares a non-zero max then fails to compile, and one that
//     declares no max cannot grow.
func (c *RuntimeConfig) WithMemoryMaxPages(memoryMaxPages uint32) *RuntimeConfig {
	ret := c.clone()
	ret.memoryMaxPages = memoryMaxPages
	return ret
}

// WithFinishedFeatures enables currently supported "finished" feature proposals. Use this to improve compatibility with
// tools that enable all features by default.
func (c *RuntimeConfig) WithFinishedFeatures() *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = wasm.FeaturesFinished
	return ret
}

// WithFeatureMutableGlobal allows globals to be mutable. This defaults to true as the feature was finished in
// WebAssembly 1.0 (20191205).
func (c *RuntimeConfig) WithFeatureMutableGlobal(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureMutableGlobal, enabled)
	return ret
}

// WithFeatureSignExtensionOps enables sign extension instructions ("sign-extension-ops"). This defaults to false as the
// feature was not finished in WebAssembly 1.0 (20191205).
func (c *RuntimeConfig) WithFeatureSignExtensionOps(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureSignExtensionOps, enabled)
	return ret
}

// WithFeatureMultiValue enables multiple values ("multi-value"). This defaults to false as the feature was not finished
// in WebAssembly 1.0 (20191205).
func (c *RuntimeConfig) WithFeatureMultiValue(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureMultiValue, enabled)
	return ret
}

// WithFeatureReferenceTypes enables funcref/externref and the table/element instructions that manipulate them
// ("reference-types").
func (c *RuntimeConfig) WithFeatureReferenceTypes(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureReferenceTypes, enabled)
	return ret
}

// WithFeatureBulkMemoryOperations enables memory.copy, memory.fill, table.copy and the *.init/*.drop family
// ("bulk-memory-operations").
func (c *RuntimeConfig) WithFeatureBulkMemoryOperations(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureBulkMemoryOperations, enabled)
	return ret
}

// ModuleConfig configures the per-instantiation name, start functions, standard streams, arguments, environment
// variables, and import rewiring for one Runtime.InstantiateModule call.
//
// Note: Unlike the teacher's, wazgo's WASI shim (spec.md §6.2) does not expose a guest file system; there is no
// WithFS/WithWorkDirFS here.
type ModuleConfig struct {
	name           string
	startFunctions []string
	stdin          io.Reader
	stdout         io.Writer
	stderr         io.Writer
	args           []string
	// environ is pair-indexed to retain order similar to os.Environ.
	environ     []string
	environKeys map[string]int

	// replacedImports holds the latest state of WithImport.
	// Note: Key is NUL delimited as import module and name can both include any UTF-8 characters.
	replacedImports map[string][2]string
	// replacedImportModules holds the latest state of WithImportModule.
	replacedImportModules map[string]string

	randSource io.Reader
}

// NewModuleConfig returns a ModuleConfig with "_start" as the sole start function, matching WASI Command conventions.
func NewModuleConfig() *ModuleConfig {
	return &ModuleConfig{
		startFunctions: []string{"_start"},
		environKeys:    map[string]int{},
	}
}

// WithName configures the module name. Defaults to what was decoded from the module's custom name section.
func (c *ModuleConfig) WithName(name string) *ModuleConfig {
	c.name = name
	return c
}

// WithImport replaces a specific import module and name with a new one. See WithImportModule for the module-wide form.
//
// Note: Any WithImport instructions happen in order, after any WithImportModule instructions.
func (c *ModuleConfig) WithImport(oldModule, oldName, newModule, newName string) *ModuleConfig {
	if c.replacedImports == nil {
		c.replacedImports = map[string][2]string{}
	}
	var b strings.Builder
	b.WriteString(oldModule)
	b.WriteByte(0) // delimit with NUL as module and name can be any UTF-8 characters.
	b.WriteString(oldName)
	c.replacedImports[b.String()] = [2]string{newModule, newName}
	return c
}

// WithImportModule replaces every import with oldModule with newModule.
//
// Note: Any WithImportModule instructions happen in order, before any WithImport instructions.
func (c *ModuleConfig) WithImportModule(oldModule, newModule string) *ModuleConfig {
	if c.replacedImportModules == nil {
		c.replacedImportModules = map[string]string{}
	}
	c.replacedImportModules[oldModule] = newModule
	return c
}

// WithStartFunctions configures the functions to call after the module is instantiated. Defaults to "_start".
//
// Note: If any function doesn't exist, it is skipped. However, all functions that do exist are called in order.
func (c *ModuleConfig) WithStartFunctions(startFunctions ...string) *ModuleConfig {
	c.startFunctions = startFunctions
	return c
}

// WithStdin configures where standard input (file descriptor 0) is read. Defaults to return io.EOF.
func (c *ModuleConfig) WithStdin(stdin io.Reader) *ModuleConfig {
	c.stdin = stdin
	return c
}

// WithStdout configures where standard output (file descriptor 1) is written. Defaults to io.Discard.
func (c *ModuleConfig) WithStdout(stdout io.Writer) *ModuleConfig {
	c.stdout = stdout
	return c
}

// WithStderr configures where standard error (file descriptor 2) is written. Defaults to io.Discard.
func (c *ModuleConfig) WithStderr(stderr io.Writer) *ModuleConfig {
	c.stderr = stderr
	return c
}

// WithArgs assigns command-line arguments visible to "args_get" in wasi_snapshot_preview1. Defaults to none.
func (c *ModuleConfig) WithArgs(args ...string) *ModuleConfig {
	c.args = args
	return c
}

// WithEnv sets an environment variable visible to "environ_get" in wasi_snapshot_preview1. Defaults to none.
//
// Validation is the same as os.Setenv on Linux and replaces any existing value.
func (c *ModuleConfig) WithEnv(key, value string) *ModuleConfig {
	if i, ok := c.environKeys[key]; ok {
		c.environ[i+1] = value // environ is pair-indexed, so the value is 1 after the key.
	} else {
		c.environKeys[key] = len(c.environ)
		c.environ = append(c.environ, key, value)
	}
	return c
}

// WithRandSource configures where "random_get" in wasi_snapshot_preview1 reads pseudo/cryptographic random bytes
// from. Defaults to crypto/rand.Reader.
func (c *ModuleConfig) WithRandSource(source io.Reader) *ModuleConfig {
	c.randSource = source
	return c
}

// toSystemContext builds the wasm.SystemContext a ModuleInstance's imports read from (spec.md §6.2).
func (c *ModuleConfig) toSystemContext() wasm.SystemContext {
	var environ []string
	for i := 0; i < len(c.environ); i += 2 {
		environ = append(environ, c.environ[i]+"="+c.environ[i+1])
	}
	stdin, stdout, stderr := c.stdin, c.stdout, c.stderr
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	randSource := c.randSource
	if randSource == nil {
		randSource = rand.Reader
	}
	return wasm.SystemContext{
		Args:       c.args,
		Environ:    environ,
		Stdin:      stdin,
		Stdout:     stdout,
		Stderr:     stderr,
		Walltime:   time.Now,
		Nanotime:   func() int64 { return time.Now().UnixNano() },
		RandSource: randSource,
	}
}

func (c *ModuleConfig) replaceImports(module *wasm.Module) *wasm.Module {
	if (c.replacedImportModules == nil && c.replacedImports == nil) || module.ImportSection == nil {
		return module
	}

	changed := false
	ret := *module // shallow copy
	replacedImports := make([]*wasm.Import, len(module.ImportSection))
	copy(replacedImports, module.ImportSection)

	for oldModule, newModule := range c.replacedImportModules {
		for i, imp := range replacedImports {
			if imp.Module == oldModule {
				changed = true
				cp := *imp
				cp.Module = newModule
				replacedImports[i] = &cp
			}
		}
	}

	for oldImport, newImport := range c.replacedImports {
		nulIdx := strings.IndexByte(oldImport, 0)
		oldModule := oldImport[0:nulIdx]
		oldName := oldImport[nulIdx+1:]
		for i, imp := range replacedImports {
			if imp.Module == oldModule && imp.Name == oldName {
				changed = true
				cp := *imp
				cp.Module, cp.Name = newImport[0], newImport[1]
				replacedImports[i] = &cp
			}
		}
	}

	if !changed {
		return module
	}
	ret.ImportSection = replacedImports
	return &ret
}
