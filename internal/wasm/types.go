// Package wasm holds the Module (immutable after decode) data model of
// spec.md §3, the binary decoder (§4.1), and the mutable runtime state
// (§4.7) that instantiation produces from it.
package wasm

import (
	"strings"

	"github.com/wazgo/wazgo/api"
)

// ValueType is re-exported from api so every package that deals in Wasm
// types shares one vocabulary with the public surface.
type ValueType = api.ValueType

// ExternType classifies an entry in the import or export namespace.
type ExternType = api.ExternType

const (
	ExternTypeFunc   = api.ExternTypeFunc
	ExternTypeTable  = api.ExternTypeTable
	ExternTypeMemory = api.ExternTypeMemory
	ExternTypeGlobal = api.ExternTypeGlobal
	// ExternTypeTag is reserved for the exception-handling proposal's tag
	// imports (spec.md §3, Imports Kinds). wazgo decodes tag sections and
	// imports structurally but a tag can never be invoked by any tier, so
	// it carries no runtime representation beyond its type index.
	ExternTypeTag ExternType = 0x04
)

// Index is a position in one of the module's index spaces (function,
// table, memory, global, type, element, data), imports first.
type Index = uint32

// FunctionType is a function signature: an ordered parameter value-type
// sequence and an ordered result value-type sequence (multi-value).
type FunctionType struct {
	Params  []ValueType
	Results []ValueType

	// cache of the String() key used to intern FunctionTypeIDs; computed
	// lazily.
	string string
}

// String renders a FunctionType the way the text format would, and is used
// as the interning key for FunctionTypeID (see Store.getFunctionTypeID).
func (t *FunctionType) String() string {
	if t.string != "" {
		return t.string
	}
	var sb strings.Builder
	sb.WriteByte('(')
	for i, p := range t.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(api.ValueTypeName(p))
	}
	sb.WriteString(")->(")
	for i, r := range t.Results {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(api.ValueTypeName(r))
	}
	sb.WriteByte(')')
	t.string = sb.String()
	return t.string
}

// EqualsSignature reports whether this type has identical parameter and
// result sequences to the given ones (used for import/call_indirect
// signature checks, spec.md §4.8, §4.7).
func (t *FunctionType) EqualsSignature(params, results []ValueType) bool {
	return sliceEq(t.Params, params) && sliceEq(t.Results, results)
}

func sliceEq(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RefType is the subset of ValueType legal as a table element type:
// funcref or externref.
type RefType = ValueType

const (
	RefTypeFuncref   = api.ValueTypeFuncref
	RefTypeExternref = api.ValueTypeExternref
)

// Limits bounds the size of a table or memory. AddressType64 selects the
// 64-bit addressing mode (memory64 proposal, limits flag bit 2); Shared is
// accepted and ignored by the core (spec.md §4.1).
type Limits struct {
	Min           uint32
	Max           *uint32
	AddressType64 bool
	Shared        bool
}

// TableType describes a table import or definition.
type TableType struct {
	ElemType RefType
	Limits   Limits
}

// MemoryType describes a memory import or definition, expressed in 64KiB
// pages.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global import or definition.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// ConstantExpression is a restricted-opcode initializer used by globals,
// and by active element/data segment offsets (spec.md §3 Invariants): the
// opcode set is {*.const, global.get, ref.null, ref.func, end}.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte // the raw bytes following Opcode, up to (excluding) `end`.
}

// Import describes one entry in the import section. Exactly one of the
// Desc* fields is meaningful, selected by Type.
type Import struct {
	Type       ExternType
	Module     string
	Name       string
	DescFunc   Index
	DescTable  TableType
	DescMem    MemoryType
	DescGlobal GlobalType
}

// Export describes one entry in the export section.
type Export struct {
	Type  ExternType
	Name  string
	Index Index
}

// ElementMode selects how an element segment is realized at instantiation.
type ElementMode byte

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// ElementSegment is a table initializer (spec.md §3).
type ElementSegment struct {
	Mode       ElementMode
	Type       RefType
	TableIndex Index // meaningful only when Mode == ElementModeActive
	OffsetExpr *ConstantExpression
	// Init holds one entry per element: either a function index (the
	// common `funcidx*` encoding) or, for the expression-list encoding, a
	// resolved function index extracted from a `ref.func`/`ref.null`
	// constant expression. -1 represents a null reference.
	Init []int64
}

// DataMode selects how a data segment is realized at instantiation.
type DataMode byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// DataSegment is a linear-memory initializer (spec.md §3).
type DataSegment struct {
	Mode        DataMode
	MemoryIndex Index
	OffsetExpr  *ConstantExpression
	Init        []byte
}

// IsPassive reports whether this segment is copied only by an explicit
// memory.init, never implicitly at instantiation.
func (d *DataSegment) IsPassive() bool { return d.Mode == DataModePassive }

// Tag describes an exception-handling tag definition (type index only;
// see ExternTypeTag).
type Tag struct {
	Type Index
}

// Global is a module-defined (non-imported) global.
type Global struct {
	Type GlobalType
	Init *ConstantExpression
}

// Function is a module-defined (non-imported) function: a type index plus
// its raw code body. wazgo never builds an eager IR for Body; the
// Predecoder consumes it lazily, on first call or during ahead-of-time
// warm-up (spec.md §4.1).
type Function struct {
	TypeIndex Index
	// LocalTypes is the locals declared in the code entry, expanded from
	// their run-length encoding, not including the function's parameters.
	LocalTypes []ValueType
	// Body is the raw Wasm bytecode for this function, from just after the
	// locals declarations up to and including the trailing `end`.
	Body []byte
	// BodyOffsetInCodeSection is kept for error messages that want to
	// reference the original byte offset.
	BodyOffsetInCodeSection uint64
}

// Table is a module-defined (non-imported) table.
type Table struct {
	Type TableType
}

// Memory is a module-defined (non-imported) memory.
type Memory struct {
	Type MemoryType
}

// Module is the decoded, immutable representation of a Wasm binary
// (spec.md §3). The Module Decoder (§4.1) is the only producer of this
// type; nothing mutates it after decode.
type Module struct {
	TypeSection    []*FunctionType
	ImportSection  []*Import
	FunctionSection []Index // type indices, one per entry in CodeSection
	TableSection   []*Table
	MemorySection  []*Memory
	GlobalSection  []*Global
	ExportSection  []*Export
	StartSection   *Index
	ElementSection []*ElementSegment
	CodeSection    []*Function
	DataSection    []*DataSegment
	DataCountSection *uint32
	TagSection     []*Tag

	// NameSection holds the (optional) custom "name" section's module name,
	// if present; used only for debug output.
	NameSection *NameSection

	// ImportFuncCount etc. record how many entries of each kind came from
	// imports, so that index-space math (imports precede definitions) never
	// has to re-scan ImportSection.
	ImportFuncCount   uint32
	ImportTableCount  uint32
	ImportMemoryCount uint32
	ImportGlobalCount uint32
	ImportTagCount    uint32
}

// NameSection is the subset of the custom "name" section wazgo decodes:
// just the module name, used in debug traces.
type NameSection struct {
	ModuleName string
}

// TypeOfFunction resolves a function index (imports first) to its
// signature.
func (m *Module) TypeOfFunction(idx Index) *FunctionType {
	if idx < m.ImportFuncCount {
		return m.TypeSection[m.ImportSection[m.importIndexOfFunc(idx)].DescFunc]
	}
	return m.TypeSection[m.FunctionSection[idx-m.ImportFuncCount]]
}

// importIndexOfFunc maps a function-namespace index below ImportFuncCount
// back to its position within ImportSection (which interleaves kinds).
func (m *Module) importIndexOfFunc(idx Index) int {
	var seen Index
	for i, imp := range m.ImportSection {
		if imp.Type == ExternTypeFunc {
			if seen == idx {
				return i
			}
			seen++
		}
	}
	panic("BUG: function index out of range of imports")
}

// SectionID enumerates the 13 core module sections (0-12) plus the
// exception-handling tag section (13).
type SectionID = byte

const (
	SectionIDCustom    SectionID = 0
	SectionIDType      SectionID = 1
	SectionIDImport    SectionID = 2
	SectionIDFunction  SectionID = 3
	SectionIDTable     SectionID = 4
	SectionIDMemory    SectionID = 5
	SectionIDGlobal    SectionID = 6
	SectionIDExport    SectionID = 7
	SectionIDStart     SectionID = 8
	SectionIDElement   SectionID = 9
	SectionIDCode      SectionID = 10
	SectionIDData      SectionID = 11
	SectionIDDataCount SectionID = 12
	SectionIDTag       SectionID = 13
)

// SectionIDName returns a human name for error messages.
func SectionIDName(id SectionID) string {
	switch id {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	case SectionIDDataCount:
		return "data count"
	case SectionIDTag:
		return "tag"
	default:
		return "unknown"
	}
}

// MemoryPageSize is 64KiB, the unit of `memory.grow`/`memory.size`.
const MemoryPageSize = uint64(65536)

// MemoryMaxPages is the hard ceiling imposed by the 32-bit address space
// when AddressType64 is false.
const MemoryMaxPages = uint32(65536)

func memoryBytesNumToPages(bytesNum uint64) uint32 {
	return uint32(bytesNum / MemoryPageSize)
}
