package wasm

import "math"

// GlobalInstanceNullFuncRefValue is the sentinel stored in a table or a
// funcref/externref global that represents a null reference.
const GlobalInstanceNullFuncRefValue int64 = -1

// TableInstance is one table belonging to a module instance (spec.md
// §4.7). References are stored as function indices into the owning
// instance's function namespace (int64, -1 for null); externref table
// elements are opaque and stored the same way via a side table when a
// host object is attached (not needed by the WASI subset wazgo ships).
type TableInstance struct {
	Type     RefType
	Min      uint32
	Max      *uint32
	Elements []int64
}

// NewTableInstance allocates a TableInstance sized to t.Limits.Min, with
// every element initialized to null.
func NewTableInstance(t *TableType) *TableInstance {
	elems := make([]int64, t.Limits.Min)
	for i := range elems {
		elems[i] = GlobalInstanceNullFuncRefValue
	}
	return &TableInstance{Type: t.ElemType, Min: t.Limits.Min, Max: t.Limits.Max, Elements: elems}
}

// Grow implements table.grow: same failure contract as MemoryInstance.Grow.
func (t *TableInstance) Grow(delta uint32, initValue int64) (previousLen uint32, ok bool) {
	current := uint32(len(t.Elements))
	if delta == 0 {
		return current, true
	}
	newLen := uint64(current) + uint64(delta)
	if t.Max != nil && newLen > uint64(*t.Max) {
		return 0, false
	}
	if newLen > math.MaxUint32 {
		return 0, false
	}
	grown := make([]int64, newLen)
	copy(grown, t.Elements)
	for i := current; i < uint32(newLen); i++ {
		grown[i] = initValue
	}
	t.Elements = grown
	return current, true
}
