package compilationcache

import (
	"io"
)

// Cache is the interface for compilation caches. Internally, the cache
// here means that the compiled binary cache by compilers. Regardless of the usage of
// Cache, the compiled functions are cached in memory, but its lifetime is
// bound to the lifetime of wazgo.Runtime or wazgo.CompiledModule.
// Usually, the compilation of Wasm binary is time-consuming. Therefore, you might
// want to cache the compilation result across the processes of wazgo users.
//
// Since these methods are concurrently accessed, the implementations must be Goroutine-safe.
//
// See NewFileCache for the example implementation.
type Cache interface {
	// Get is called when the runtime is trying to get the cached content.
	// Implementations are supposed to return `content` which can be used to
	// read the content passed by Add as-is. Returns ok=true if the
	// content was found on the cache. That means the content is not empty
	// if and only if ok=true. In the case of not-found, this should return
	// ok=false with err=nil. content.Close() is automatically called by
	// the caller of this Get.
	//
	// Note: the returned content won't go through the validation pass of Wasm binary
	// which is applied when the binary is compiled from scratch without cache hit.
	// Its implication is that the implementors of Cache might want to have
	// their own validation phases. For example, sign the binary passed to Add, and
	// verify the signature of the stored cache before returning it via Get, etc.
	Get(key Key) (content io.ReadCloser, ok bool, err error)
	// Add is called when the runtime is trying to add the new cache entry.
	// The given `content` must be un-modified, and returned as-is in Get method.
	//
	// Note: the `content` is ensured to be safe through the validation phase applied on the Wasm binary.
	Add(key Key, content io.Reader) (err error)
	// Delete purges the entry for `key`. The wazgo runtime itself never
	// calls it: an entry it cannot read is treated as a miss and replaced
	// by the next Add, and entries of other wazgo versions live in a
	// different directory (see the root cache.go).
	Delete(key Key) (err error)
}

// Key is the xxhash64 content digest of a module's function bodies
// identifying a cache entry. The engine version, GOARCH and GOOS are not
// part of the key; they name the cache directory instead (spec.md §4.10's
// "version-keyed" requirement). xxhash over sha256 trades cryptographic
// collision resistance (unneeded here: an entry that fails to decode is
// treated as a miss, not trusted blindly) for the speed the corpus's other
// content-addressed components (klauspost/compress's own checksums) favor.
type Key = uint64
