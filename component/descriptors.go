package component

import "github.com/pkg/errors"

// The descriptors below capture the common shape of a component binary
// record — a one-byte sort/kind tag, a vector of index operands, and
// (where the kind implies one) a name — without attempting a full
// canonical-ABI type grammar. wazgo never executes components, so the
// descriptors exist only to let component/wasip2shim match import/export
// names; anything past that is kept as a raw, re-decodable byte slice.

// TypeDescriptor is one entry of a type or core:type section.
type TypeDescriptor struct {
	Kind string // "func", "component", "instance", "value", "core:type", ...
	Raw  []byte
}

// CanonDescriptor is one entry of the canon section: a `canon lift` or
// `canon lower` record binding a core function index to a component-level
// function via a type index, per spec.md §6 ("canonical=8").
type CanonDescriptor struct {
	Lift          bool // true for "canon lift", false for "canon lower"
	CoreFuncIndex uint32
	TypeIndex     uint32
}

// AliasDescriptor is one entry of the alias section: a reference to a
// definition exported by an enclosing scope or a sibling instance.
type AliasDescriptor struct {
	Sort          byte
	InstanceIndex uint32
	Name          string
}

// InstanceDescriptor is one entry of the instance (or core:instance)
// section: an instantiation of a module/component by index, with its
// argument names (the values themselves are not resolved here).
type InstanceDescriptor struct {
	Core        bool // true if this instantiates a core:module, false for component
	TargetIndex uint32
	ArgNames    []string
}

// ImportDescriptor is one entry of the import section: a name (frequently
// a Preview-2 interface like "wasi:cli/stdin@0.2.0") and the sort of
// definition it expects.
type ImportDescriptor struct {
	Name string
	Sort byte
}

// ExportDescriptor is one entry of the export section: a name, the sort
// and index of the definition it re-exports.
type ExportDescriptor struct {
	Name  string
	Sort  byte
	Index uint32
}

// StartDescriptor is the component start section: the function to invoke
// on instantiation, its argument value indices, and the count of results
// it produces — the component-level analogue of a core module's single
// start function index (which takes no arguments).
type StartDescriptor struct {
	FuncIndex uint32
	Args      []uint32
	Results   uint32
}

func decodeTypeSection(payload []byte) ([]TypeDescriptor, error) {
	c := &cursor{buf: payload}
	count, err := c.u32()
	if err != nil {
		return nil, errTruncated("type section count")
	}
	out := make([]TypeDescriptor, 0, count)
	for i := uint32(0); i < count; i++ {
		kindByte, err := c.byte()
		if err != nil {
			return nil, errTruncated("type entry kind")
		}
		rest, err := readOperandVector(c)
		if err != nil {
			return nil, errors.Wrap(err, "type entry body")
		}
		out = append(out, TypeDescriptor{Kind: typeKindName(kindByte), Raw: rest})
	}
	return out, nil
}

func typeKindName(b byte) string {
	switch b {
	case 0x40:
		return "func"
	case 0x41:
		return "component"
	case 0x42:
		return "instance"
	case 0x43:
		return "value"
	default:
		return "defvaltype"
	}
}

func decodeCanonSection(payload []byte) ([]CanonDescriptor, error) {
	c := &cursor{buf: payload}
	count, err := c.u32()
	if err != nil {
		return nil, errTruncated("canon section count")
	}
	out := make([]CanonDescriptor, 0, count)
	for i := uint32(0); i < count; i++ {
		lift, err := c.byte() // 0x00 = lift, 0x01 = lower
		if err != nil {
			return nil, errTruncated("canon entry tag")
		}
		coreFuncIdx, err := c.u32()
		if err != nil {
			return nil, errTruncated("canon entry core func index")
		}
		typeIdx, err := c.u32()
		if err != nil {
			return nil, errTruncated("canon entry type index")
		}
		out = append(out, CanonDescriptor{Lift: lift == 0x00, CoreFuncIndex: coreFuncIdx, TypeIndex: typeIdx})
	}
	return out, nil
}

func decodeAliasSection(payload []byte) ([]AliasDescriptor, error) {
	c := &cursor{buf: payload}
	count, err := c.u32()
	if err != nil {
		return nil, errTruncated("alias section count")
	}
	out := make([]AliasDescriptor, 0, count)
	for i := uint32(0); i < count; i++ {
		sort, err := c.byte()
		if err != nil {
			return nil, errTruncated("alias entry sort")
		}
		instIdx, err := c.u32()
		if err != nil {
			return nil, errTruncated("alias entry instance index")
		}
		name, err := c.name()
		if err != nil {
			return nil, errTruncated("alias entry name")
		}
		out = append(out, AliasDescriptor{Sort: sort, InstanceIndex: instIdx, Name: name})
	}
	return out, nil
}

func decodeInstanceSection(payload []byte) ([]InstanceDescriptor, error) {
	c := &cursor{buf: payload}
	count, err := c.u32()
	if err != nil {
		return nil, errTruncated("instance section count")
	}
	out := make([]InstanceDescriptor, 0, count)
	for i := uint32(0); i < count; i++ {
		core, err := c.byte()
		if err != nil {
			return nil, errTruncated("instance entry core flag")
		}
		targetIdx, err := c.u32()
		if err != nil {
			return nil, errTruncated("instance entry target index")
		}
		argCount, err := c.u32()
		if err != nil {
			return nil, errTruncated("instance entry arg count")
		}
		args := make([]string, 0, argCount)
		for j := uint32(0); j < argCount; j++ {
			n, err := c.name()
			if err != nil {
				return nil, errTruncated("instance entry arg name")
			}
			args = append(args, n)
		}
		out = append(out, InstanceDescriptor{Core: core != 0, TargetIndex: targetIdx, ArgNames: args})
	}
	return out, nil
}

func decodeImportSection(payload []byte) ([]ImportDescriptor, error) {
	c := &cursor{buf: payload}
	count, err := c.u32()
	if err != nil {
		return nil, errTruncated("import section count")
	}
	out := make([]ImportDescriptor, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := c.name()
		if err != nil {
			return nil, errTruncated("import entry name")
		}
		sort, err := c.byte()
		if err != nil {
			return nil, errTruncated("import entry sort")
		}
		if _, err := readOperandVector(c); err != nil {
			return nil, errors.Wrap(err, "import entry descriptor")
		}
		out = append(out, ImportDescriptor{Name: name, Sort: sort})
	}
	return out, nil
}

func decodeExportSection(payload []byte) ([]ExportDescriptor, error) {
	c := &cursor{buf: payload}
	count, err := c.u32()
	if err != nil {
		return nil, errTruncated("export section count")
	}
	out := make([]ExportDescriptor, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := c.name()
		if err != nil {
			return nil, errTruncated("export entry name")
		}
		sort, err := c.byte()
		if err != nil {
			return nil, errTruncated("export entry sort")
		}
		idx, err := c.u32()
		if err != nil {
			return nil, errTruncated("export entry index")
		}
		out = append(out, ExportDescriptor{Name: name, Sort: sort, Index: idx})
	}
	return out, nil
}

func decodeStartSection(payload []byte) (*StartDescriptor, error) {
	c := &cursor{buf: payload}
	funcIdx, err := c.u32()
	if err != nil {
		return nil, errTruncated("start section func index")
	}
	argCount, err := c.u32()
	if err != nil {
		return nil, errTruncated("start section arg count")
	}
	args := make([]uint32, 0, argCount)
	for i := uint32(0); i < argCount; i++ {
		a, err := c.u32()
		if err != nil {
			return nil, errTruncated("start section arg")
		}
		args = append(args, a)
	}
	results, err := c.u32()
	if err != nil {
		return nil, errTruncated("start section result count")
	}
	return &StartDescriptor{FuncIndex: funcIdx, Args: args, Results: results}, nil
}

// readOperandVector reads a u32 count followed by that many u32 operands,
// returning their raw encoded bytes for callers that don't need them
// individually resolved (wazgo never executes components, so most operand
// vectors are kept only for round-tripping, not interpretation).
func readOperandVector(c *cursor) ([]byte, error) {
	start := c.offset
	count, err := c.u32()
	if err != nil {
		return nil, errTruncated("operand vector count")
	}
	for i := uint32(0); i < count; i++ {
		if _, err := c.u32(); err != nil {
			return nil, errTruncated("operand vector entry")
		}
	}
	return c.buf[start:c.offset], nil
}
