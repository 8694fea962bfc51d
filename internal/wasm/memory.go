package wasm

import (
	"math"
	"sync/atomic"
)

// MemoryInstance is one linear memory belonging to a module instance
// (spec.md §4.7). Its backing Buffer is grown by reallocation; pointers
// into it must not be held across a memory.grow.
type MemoryInstance struct {
	Buffer     []byte
	Min        uint32
	Max        uint32 // resolved ceiling: MemoryType.Limits.Max if set, else MemoryMaxPages
	definedMax bool

	// closed is never set or read: closing the owning module instance
	// leaves its memory readable and writable (spec.md §4.9).
	closed atomic.Bool
}

// NewMemoryInstance allocates a MemoryInstance sized to t.Limits.Min pages.
func NewMemoryInstance(t *MemoryType) *MemoryInstance {
	max := MemoryMaxPages
	definedMax := false
	if t.Limits.Max != nil {
		max = *t.Limits.Max
		definedMax = true
	}
	return &MemoryInstance{
		Buffer:     make([]byte, uint64(t.Limits.Min)*MemoryPageSize),
		Min:        t.Limits.Min,
		Max:        max,
		definedMax: definedMax,
	}
}

// Size returns the current size in pages.
func (m *MemoryInstance) Size() uint32 { return uint32(uint64(len(m.Buffer)) / MemoryPageSize) }

// Grow implements memory.grow: on success returns the previous size in
// pages; on failure (would exceed Max, or host allocation fails) returns
// false and leaves Buffer untouched (spec.md §4.7's memory.grow semantics:
// failure returns -1 to the guest, never traps).
func (m *MemoryInstance) Grow(deltaPages uint32) (previousPages uint32, ok bool) {
	current := m.Size()
	if deltaPages == 0 {
		return current, true
	}
	newPages := uint64(current) + uint64(deltaPages)
	if newPages > uint64(m.Max) {
		return 0, false
	}
	newBuf := make([]byte, newPages*MemoryPageSize)
	copy(newBuf, m.Buffer)
	m.Buffer = newBuf
	return current, true
}

func (m *MemoryInstance) boundsCheck(offset, length uint64) bool {
	return offset+length <= uint64(len(m.Buffer)) && offset+length >= offset
}

// ReadByte through ReadFloat64 load a little-endian value at offset,
// returning ok=false on out-of-bounds access (the caller raises
// ErrOutOfBoundsMemoryAccess; this package never traps directly).
func (m *MemoryInstance) ReadByte(offset uint64) (byte, bool) {
	if !m.boundsCheck(offset, 1) {
		return 0, false
	}
	return m.Buffer[offset], true
}

func (m *MemoryInstance) ReadUint16(offset uint64) (uint16, bool) {
	if !m.boundsCheck(offset, 2) {
		return 0, false
	}
	b := m.Buffer[offset : offset+2]
	return uint16(b[0]) | uint16(b[1])<<8, true
}

func (m *MemoryInstance) ReadUint32(offset uint64) (uint32, bool) {
	if !m.boundsCheck(offset, 4) {
		return 0, false
	}
	b := m.Buffer[offset : offset+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

func (m *MemoryInstance) ReadUint64(offset uint64) (uint64, bool) {
	if !m.boundsCheck(offset, 8) {
		return 0, false
	}
	b := m.Buffer[offset : offset+8]
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v, true
}

func (m *MemoryInstance) ReadFloat32(offset uint64) (float32, bool) {
	v, ok := m.ReadUint32(offset)
	if !ok {
		return 0, false
	}
	return math.Float32frombits(v), true
}

func (m *MemoryInstance) ReadFloat64(offset uint64) (float64, bool) {
	v, ok := m.ReadUint64(offset)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(v), true
}

// Read returns a slice view of length bytes at offset (ok=false if out of
// bounds). The slice aliases Buffer and is invalidated by a subsequent
// Grow.
func (m *MemoryInstance) Read(offset, length uint64) ([]byte, bool) {
	if !m.boundsCheck(offset, length) {
		return nil, false
	}
	return m.Buffer[offset : offset+length], true
}

func (m *MemoryInstance) WriteByte(offset uint64, v byte) bool {
	if !m.boundsCheck(offset, 1) {
		return false
	}
	m.Buffer[offset] = v
	return true
}

func (m *MemoryInstance) WriteUint16(offset uint64, v uint16) bool {
	if !m.boundsCheck(offset, 2) {
		return false
	}
	b := m.Buffer[offset : offset+2]
	b[0], b[1] = byte(v), byte(v>>8)
	return true
}

func (m *MemoryInstance) WriteUint32(offset uint64, v uint32) bool {
	if !m.boundsCheck(offset, 4) {
		return false
	}
	b := m.Buffer[offset : offset+4]
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	return true
}

func (m *MemoryInstance) WriteUint64(offset uint64, v uint64) bool {
	if !m.boundsCheck(offset, 8) {
		return false
	}
	b := m.Buffer[offset : offset+8]
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return true
}

func (m *MemoryInstance) WriteFloat32(offset uint64, v float32) bool {
	return m.WriteUint32(offset, math.Float32bits(v))
}

func (m *MemoryInstance) WriteFloat64(offset uint64, v float64) bool {
	return m.WriteUint64(offset, math.Float64bits(v))
}

// Write copies src into Buffer at offset, returning false if it would run
// out of bounds.
func (m *MemoryInstance) Write(offset uint64, src []byte) bool {
	if !m.boundsCheck(offset, uint64(len(src))) {
		return false
	}
	copy(m.Buffer[offset:], src)
	return true
}

// Fill implements memory.fill.
func (m *MemoryInstance) Fill(offset uint64, v byte, length uint64) bool {
	if !m.boundsCheck(offset, length) {
		return false
	}
	region := m.Buffer[offset : offset+length]
	for i := range region {
		region[i] = v
	}
	return true
}

// CopyWithin implements memory.copy within a single memory (the only kind
// wazgo supports: multi-memory is out of scope).
func (m *MemoryInstance) CopyWithin(dst, src, length uint64) bool {
	if !m.boundsCheck(dst, length) || !m.boundsCheck(src, length) {
		return false
	}
	copy(m.Buffer[dst:dst+length], m.Buffer[src:src+length])
	return true
}
