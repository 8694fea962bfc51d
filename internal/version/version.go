// Package version reports the wazgo module version for embedding into
// version-keyed artifacts (the compilation cache directory name, the CLI's
// `version` command).
package version

import "runtime/debug"

// version is set by the linker via -ldflags, or falls back to the module
// version recorded in the build info when built as a dependency.
var version string

// GetWazgoVersion returns the current version of wazgo, or "dev" if it
// cannot be determined (e.g. `go run` from a non-module build).
func GetWazgoVersion() string {
	if version != "" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, dep := range info.Deps {
		if dep.Path == "github.com/wazgo/wazgo" {
			return dep.Version
		}
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
