package interpreter

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/wazgo/wazgo/internal/compilationcache"
	"github.com/wazgo/wazgo/internal/predecode"
	"github.com/wazgo/wazgo/internal/wasm"
)

// cachedFunc is the on-disk representation of one function's predecoded
// form (spec.md §4.10): plain value fields only, so gob round-trips it
// without a custom encoder. Unsupported mirrors compiledFunction.unsupported
// so a function predecode bailed out on doesn't get re-predecoded on every
// cache hit just to rediscover the same bail-out.
type cachedFunc struct {
	Instrs      []predecode.Instr
	Pool64      []uint64
	NumLocal    int
	Unsupported bool
}

// contentKey hashes a module's own bytecode: the raw instruction bytes of
// every function in CodeSection order, each length-prefixed so adjacent
// bodies can't collide. This is deterministic across processes given the
// same input binary, independent of the module's decoded address identity.
func contentKey(m *wasm.Module) compilationcache.Key {
	h := xxhash.New()
	var lenBuf [4]byte
	for _, fn := range m.CodeSection {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(fn.Body)))
		h.Write(lenBuf[:])
		h.Write(fn.Body)
	}
	return h.Sum64()
}

// loadCached fetches and decodes key's cache entry, if this Engine has a
// cache configured and the entry exists and decodes cleanly. Any failure
// (cache miss, corrupt entry, version skew) is treated as a miss: the
// caller falls back to predecoding from scratch.
func (e *Engine) loadCached(key compilationcache.Key) ([]cachedFunc, bool) {
	if e.cache == nil {
		return nil, false
	}
	r, ok, err := e.cache.Get(key)
	if err != nil || !ok {
		return nil, false
	}
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		log.WithError(err).Debug("compilation cache entry is not valid gzip; ignoring")
		return nil, false
	}
	defer gz.Close()

	var funcs []cachedFunc
	if err := gob.NewDecoder(gz).Decode(&funcs); err != nil {
		log.WithError(err).Debug("compilation cache entry failed to decode; ignoring")
		return nil, false
	}
	return funcs, true
}

// storeCached gzip-compresses and gob-encodes funcs and adds it to this
// Engine's cache under key. Failures only get logged: the cache is an
// optimization, never required for CompileModule to succeed.
func (e *Engine) storeCached(key compilationcache.Key, funcs []cachedFunc) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(funcs); err != nil {
		log.WithError(err).Debug("compilation cache encode failed")
		return
	}
	if err := gz.Close(); err != nil {
		log.WithError(err).Debug("compilation cache gzip flush failed")
		return
	}
	if err := e.cache.Add(key, &buf); err != nil {
		log.WithError(err).Debug("compilation cache store failed")
	}
}
