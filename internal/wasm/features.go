package wasm

// Features is a bitset of optional proposal features a Runtime enables.
// The MVP (WebAssembly 1.0, 20191205) feature set is always on; everything
// else defaults off and is toggled through wazero-style RuntimeConfig
// With* methods at the root package.
type Features uint64

const (
	FeatureMutableGlobal Features = 1 << iota
	FeatureSignExtensionOps
	FeatureMultiValue
	FeatureReferenceTypes
	FeatureBulkMemoryOperations
	FeatureNonTrappingFloatToIntConversion
	FeatureSIMD
)

// Features20191205 is the finished WebAssembly 1.0 (20191205) feature set.
const Features20191205 = FeatureMutableGlobal

// FeaturesFinished is every feature that has exited the proposal process
// as of the corpus this runtime targets (spec.md §1).
const FeaturesFinished = FeatureMutableGlobal |
	FeatureSignExtensionOps |
	FeatureMultiValue |
	FeatureReferenceTypes |
	FeatureBulkMemoryOperations |
	FeatureNonTrappingFloatToIntConversion

// Get reports whether f is enabled in this set.
func (set Features) Get(f Features) bool { return set&f != 0 }

// Set returns a copy of set with f enabled or disabled.
func (set Features) Set(f Features, enabled bool) Features {
	if enabled {
		return set | f
	}
	return set &^ f
}
