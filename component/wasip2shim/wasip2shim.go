// Package wasip2shim adapts WASI Preview-2 interface names, as they appear
// in a component's import section, to wazgo's existing Preview-1 host
// module (imports/wasi_snapshot_preview1). This is a name translation only
// (spec.md §6): every recognized interface is re-exported as a full copy of
// the Preview-1 function set under the interface's own module name, using
// imports/wasi_snapshot_preview1's FunctionExporter so the same Go
// implementation backs both. No canonical-ABI lifting/lowering happens
// here — wazgo does not execute components.
package wasip2shim

import (
	"context"
	"strings"

	"github.com/wazgo/wazgo"
	"github.com/wazgo/wazgo/api"
	"github.com/wazgo/wazgo/component"
	"github.com/wazgo/wazgo/imports/wasi_snapshot_preview1"
)

// recognizedInterfaces lists the Preview-2 interface names spec.md §6 names
// as in scope for this shim ("wasi:cli/stdin", "wasi:clocks/wall-clock",
// "wasi:filesystem/types", ...). A component may import other interfaces;
// this shim only translates the ones it recognizes, leaving the rest for
// the embedder to wire itself.
var recognizedInterfaces = map[string]bool{
	"wasi:cli/stdin":              true,
	"wasi:cli/stdout":             true,
	"wasi:cli/stderr":             true,
	"wasi:cli/environment":        true,
	"wasi:cli/exit":               true,
	"wasi:clocks/wall-clock":      true,
	"wasi:clocks/monotonic-clock": true,
	"wasi:filesystem/types":       true,
	"wasi:filesystem/preopens":    true,
	"wasi:io/streams":             true,
	"wasi:random/random":          true,
}

// Recognized reports whether importName (e.g. "wasi:cli/stdin@0.2.0") names
// an interface this shim knows how to translate. The version suffix, if
// any, is ignored: wazgo translates by interface name only.
func Recognized(importName string) bool {
	return recognizedInterfaces[versionlessName(importName)]
}

// versionlessName strips a trailing "@x.y.z" from a Preview-2 interface
// name, matching how component import names are typically written
// ("wasi:cli/stdin@0.2.0").
func versionlessName(name string) string {
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[:i]
	}
	return name
}

// InstantiateForComponent instantiates one host module per distinct
// recognized Preview-2 interface name imported by comp, each re-exporting
// imports/wasi_snapshot_preview1's full function set under that interface's
// exact import name. Unrecognized imports are left alone; the caller must
// wire those itself (or expect instantiation of the component's core
// modules to fail on an unresolved import).
func InstantiateForComponent(ctx context.Context, r wazgo.Runtime, comp *component.Component) ([]api.Closer, error) {
	exporter := wasi_snapshot_preview1.NewFunctionExporter()

	seen := map[string]bool{}
	var closers []api.Closer
	for _, imp := range comp.Imports {
		if !Recognized(imp.Name) || seen[imp.Name] {
			continue
		}
		seen[imp.Name] = true

		builder := r.NewHostModuleBuilder(imp.Name)
		exporter.ExportFunctions(builder)
		mod, err := builder.Instantiate(ctx)
		if err != nil {
			closeAll(ctx, closers)
			return nil, err
		}
		closers = append(closers, mod)
	}
	return closers, nil
}

func closeAll(ctx context.Context, closers []api.Closer) {
	for _, c := range closers {
		_ = c.Close(ctx)
	}
}
