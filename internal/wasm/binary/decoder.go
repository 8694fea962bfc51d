package binary

import (
	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/internal/leb128"
	"github.com/wazgo/wazgo/internal/tracelog"
	"github.com/wazgo/wazgo/internal/wasm"
)

var magic = [4]byte{0x00, 0x61, 0x73, 0x6d} // "\0asm"

const version1 uint32 = 0x01

var log = tracelog.For("decode")

// DecodeModule is the sole entry point of the Module Decoder. It is a pure
// function of buf: on success it returns a *wasm.Module whose code bodies
// and init expressions alias buf; on any structural error it returns
// wasm.ErrInvalidModule (or the more specific FunctionCodeMismatch).
func DecodeModule(buf []byte, enabledFeatures wasm.Features, memoryMaxPages uint32) (*wasm.Module, error) {
	log.WithField("bytes", len(buf)).Debug("decoding module")
	if len(buf) < 8 {
		return nil, errors.Wrap(wasm.ErrInvalidModule, "binary too short for a module header")
	}
	for i, b := range magic {
		if buf[i] != b {
			return nil, errors.Wrap(wasm.ErrInvalidModule, "invalid magic number")
		}
	}
	ver := uint32(buf[4]) | uint32(buf[5])<<8 | uint32(buf[6])<<16 | uint32(buf[7])<<24
	if ver != version1 {
		return nil, errors.Wrapf(wasm.ErrInvalidModule, "invalid version header %#x", ver)
	}

	r := &reader{buf: buf, offset: 8}
	m := &wasm.Module{}

	var lastNonCustomSectionID wasm.SectionID = 0
	seenSections := map[wasm.SectionID]bool{}
	for r.remaining() > 0 {
		id, err := r.byte()
		if err != nil {
			return nil, errors.Wrap(wasm.ErrInvalidModule, "reading section id")
		}
		size, err := r.u32()
		if err != nil {
			return nil, errors.Wrap(wasm.ErrInvalidModule, "reading section size")
		}
		if uint64(size) > r.remaining() {
			return nil, errors.Wrapf(wasm.ErrInvalidModule, "section %s size %d exceeds remaining input", wasm.SectionIDName(id), size)
		}
		sectionBuf := r.buf[r.offset : r.offset+uint64(size)]
		sectionEnd := r.offset + uint64(size)

		// Unknown section IDs are skipped, never fail decoding (spec.md
		// §4.1). Custom sections (ID 0) may repeat; every other known
		// section must appear at most once and, apart from custom
		// sections, in ascending order.
		if id != wasm.SectionIDCustom {
			if seenSections[id] {
				return nil, errors.Wrapf(wasm.ErrInvalidModule, "section %s appears more than once", wasm.SectionIDName(id))
			}
			if id <= lastNonCustomSectionID {
				return nil, errors.Wrapf(wasm.ErrInvalidModule, "section %s out of order", wasm.SectionIDName(id))
			}
			lastNonCustomSectionID = id
			seenSections[id] = true
		}

		sr := &reader{buf: sectionBuf}
		switch id {
		case wasm.SectionIDCustom:
			if err := decodeCustomSection(sr, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDType:
			if err := decodeTypeSection(sr, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDImport:
			if err := decodeImportSection(sr, m, enabledFeatures); err != nil {
				return nil, err
			}
		case wasm.SectionIDFunction:
			if err := decodeFunctionSection(sr, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDTable:
			if err := decodeTableSection(sr, m, enabledFeatures); err != nil {
				return nil, err
			}
		case wasm.SectionIDMemory:
			if err := decodeMemorySection(sr, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDGlobal:
			if err := decodeGlobalSection(sr, m, enabledFeatures); err != nil {
				return nil, err
			}
		case wasm.SectionIDExport:
			if err := decodeExportSection(sr, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDStart:
			idx, err := sr.u32()
			if err != nil {
				return nil, errors.Wrap(wasm.ErrInvalidModule, "start section")
			}
			m.StartSection = &idx
		case wasm.SectionIDElement:
			if err := decodeElementSection(sr, m, enabledFeatures); err != nil {
				return nil, err
			}
		case wasm.SectionIDCode:
			if err := decodeCodeSection(sr, m); err != nil {
				return nil, err
			}
		case wasm.SectionIDData:
			if err := decodeDataSection(sr, m, enabledFeatures); err != nil {
				return nil, err
			}
		case wasm.SectionIDDataCount:
			n, err := sr.u32()
			if err != nil {
				return nil, errors.Wrap(wasm.ErrInvalidModule, "data count section")
			}
			m.DataCountSection = &n
		case wasm.SectionIDTag:
			if err := decodeTagSection(sr, m); err != nil {
				return nil, err
			}
		default:
			// Unknown section: skip its body without failing.
		}
		r.offset = sectionEnd
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, wasm.FunctionCodeMismatch(len(m.FunctionSection), len(m.CodeSection))
	}
	if m.DataCountSection != nil && int(*m.DataCountSection) != len(m.DataSection) {
		return nil, errors.Wrapf(wasm.ErrInvalidModule, "data count section (%d) != data section count (%d)", *m.DataCountSection, len(m.DataSection))
	}
	for i, mem := range m.MemorySection {
		lim := &mem.Type.Limits
		if lim.Max == nil {
			max := memoryMaxPages
			lim.Max = &max
		} else if *lim.Max > memoryMaxPages {
			return nil, errors.Wrapf(wasm.ErrInvalidModule, "memory[%d]: max %d pages exceeds the limit of %d", i, *lim.Max, memoryMaxPages)
		}
	}
	if err := validateConstantExpressions(m, enabledFeatures); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeCustomSection(r *reader, m *wasm.Module) error {
	name, err := r.name()
	if err != nil {
		// A malformed custom section is still skipped, not fatal: custom
		// sections are always "skip their bodies" per spec.md §4.1.
		return nil
	}
	if name == "name" && m.NameSection == nil {
		// Only the module-name subsection (id 0) is decoded; function and
		// local name subsections are debug-only and left unparsed.
		if r.remaining() > 0 {
			if subID, err := r.byte(); err == nil && subID == 0 {
				if _, err := r.u32(); err == nil {
					if modName, err := r.name(); err == nil {
						m.NameSection = &wasm.NameSection{ModuleName: modName}
					}
				}
			}
		}
	}
	return nil
}

func decodeTypeSection(r *reader, m *wasm.Module) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "type section count")
	}
	m.TypeSection = make([]*wasm.FunctionType, count)
	for i := range m.TypeSection {
		form, err := r.byte()
		if err != nil || form != 0x60 {
			return errors.Wrapf(wasm.ErrInvalidModule, "type[%d]: expected function type form 0x60", i)
		}
		paramCount, err := r.u32()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "type[%d]: param count", i)
		}
		params := make([]wasm.ValueType, paramCount)
		for j := range params {
			if params[j], err = r.valueType(); err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "type[%d]: param[%d]", i, j)
			}
		}
		resultCount, err := r.u32()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "type[%d]: result count", i)
		}
		results := make([]wasm.ValueType, resultCount)
		for j := range results {
			if results[j], err = r.valueType(); err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "type[%d]: result[%d]", i, j)
			}
		}
		m.TypeSection[i] = &wasm.FunctionType{Params: params, Results: results}
	}
	return nil
}

func decodeImportSection(r *reader, m *wasm.Module, enabledFeatures wasm.Features) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "import section count")
	}
	m.ImportSection = make([]*wasm.Import, count)
	for i := range m.ImportSection {
		modName, err := r.name()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: module name", i)
		}
		fieldName, err := r.name()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: field name", i)
		}
		kind, err := r.byte()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: kind", i)
		}
		imp := &wasm.Import{Type: kind, Module: modName, Name: fieldName}
		switch kind {
		case wasm.ExternTypeFunc:
			if imp.DescFunc, err = r.u32(); err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: func type index", i)
			}
			m.ImportFuncCount++
		case wasm.ExternTypeTable:
			elemType, err := r.valueType()
			if err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: table elem type", i)
			}
			lim, err := r.limits()
			if err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: table limits", i)
			}
			imp.DescTable = wasm.TableType{ElemType: elemType, Limits: lim}
			m.ImportTableCount++
		case wasm.ExternTypeMemory:
			lim, err := r.limits()
			if err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: memory limits", i)
			}
			imp.DescMem = wasm.MemoryType{Limits: lim}
			m.ImportMemoryCount++
		case wasm.ExternTypeGlobal:
			vt, err := r.valueType()
			if err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: global type", i)
			}
			mutByte, err := r.byte()
			if err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: global mutability", i)
			}
			imp.DescGlobal = wasm.GlobalType{ValType: vt, Mutable: mutByte == 1}
			m.ImportGlobalCount++
		case wasm.ExternTypeTag:
			typeIdx, err := r.u32()
			if err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: tag type index", i)
			}
			_, err = r.byte() // attribute byte, always 0 (exception)
			if err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: tag attribute", i)
			}
			imp.DescFunc = typeIdx
			m.ImportTagCount++
		default:
			return errors.Wrapf(wasm.ErrInvalidModule, "import[%d]: unknown kind %#x", i, kind)
		}
		m.ImportSection[i] = imp
	}
	return nil
}

func decodeFunctionSection(r *reader, m *wasm.Module) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "function section count")
	}
	m.FunctionSection = make([]wasm.Index, count)
	for i := range m.FunctionSection {
		if m.FunctionSection[i], err = r.u32(); err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "function[%d]: type index", i)
		}
	}
	return nil
}

func decodeTableSection(r *reader, m *wasm.Module, enabledFeatures wasm.Features) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "table section count")
	}
	m.TableSection = make([]*wasm.Table, count)
	for i := range m.TableSection {
		elemType, err := r.valueType()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "table[%d]: elem type", i)
		}
		if elemType != wasm.RefTypeFuncref && !enabledFeatures.Get(wasm.FeatureReferenceTypes) {
			return errors.Wrapf(wasm.ErrInvalidModule, "table[%d]: externref requires reference-types feature", i)
		}
		lim, err := r.limits()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "table[%d]: limits", i)
		}
		m.TableSection[i] = &wasm.Table{Type: wasm.TableType{ElemType: elemType, Limits: lim}}
	}
	return nil
}

func decodeMemorySection(r *reader, m *wasm.Module) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "memory section count")
	}
	m.MemorySection = make([]*wasm.Memory, count)
	for i := range m.MemorySection {
		lim, err := r.limits()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "memory[%d]: limits", i)
		}
		m.MemorySection[i] = &wasm.Memory{Type: wasm.MemoryType{Limits: lim}}
	}
	return nil
}

func decodeGlobalSection(r *reader, m *wasm.Module, enabledFeatures wasm.Features) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "global section count")
	}
	m.GlobalSection = make([]*wasm.Global, count)
	for i := range m.GlobalSection {
		vt, err := r.valueType()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "global[%d]: type", i)
		}
		mutByte, err := r.byte()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "global[%d]: mutability", i)
		}
		if mutByte == 1 && !enabledFeatures.Get(wasm.FeatureMutableGlobal) {
			return errors.Wrapf(wasm.ErrInvalidModule, "global[%d]: mutable globals are disabled", i)
		}
		expr, err := decodeConstantExpression(r)
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "global[%d]: init expression", i)
		}
		m.GlobalSection[i] = &wasm.Global{Type: wasm.GlobalType{ValType: vt, Mutable: mutByte == 1}, Init: expr}
	}
	return nil
}

func decodeExportSection(r *reader, m *wasm.Module) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "export section count")
	}
	m.ExportSection = make([]*wasm.Export, count)
	seen := map[string]bool{}
	for i := range m.ExportSection {
		name, err := r.name()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "export[%d]: name", i)
		}
		if seen[name] {
			return errors.Wrapf(wasm.ErrInvalidModule, "export[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		kind, err := r.byte()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "export[%d]: kind", i)
		}
		idx, err := r.u32()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "export[%d]: index", i)
		}
		m.ExportSection[i] = &wasm.Export{Type: kind, Name: name, Index: idx}
	}
	return nil
}

func decodeElementSection(r *reader, m *wasm.Module, enabledFeatures wasm.Features) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "element section count")
	}
	m.ElementSection = make([]*wasm.ElementSegment, count)
	for i := range m.ElementSection {
		seg, err := decodeElementSegment(r, enabledFeatures)
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "element[%d]: %s", i, err)
		}
		m.ElementSection[i] = seg
	}
	return nil
}

// decodeElementSegment implements the 8-variant element segment encoding
// (flags 0-7) from the bulk-memory/reference-types proposals.
func decodeElementSegment(r *reader, enabledFeatures wasm.Features) (*wasm.ElementSegment, error) {
	flags, err := r.u32()
	if err != nil {
		return nil, err
	}
	seg := &wasm.ElementSegment{Type: wasm.RefTypeFuncref}
	hasTableIndex := flags&0x2 != 0
	isPassiveOrDeclarative := flags&0x1 != 0
	usesExprs := flags&0x4 != 0

	if !isPassiveOrDeclarative {
		seg.Mode = wasm.ElementModeActive
		if hasTableIndex {
			if seg.TableIndex, err = r.u32(); err != nil {
				return nil, err
			}
		}
		if seg.OffsetExpr, err = decodeConstantExpression(r); err != nil {
			return nil, err
		}
	} else if hasTableIndex {
		seg.Mode = wasm.ElementModeDeclarative
	} else {
		seg.Mode = wasm.ElementModePassive
	}

	if !isPassiveOrDeclarative && !hasTableIndex {
		// flags==0: funcidx* encoding, implicit funcref type, no elemkind byte.
	} else if usesExprs {
		if !isPassiveOrDeclarative || hasTableIndex {
			et, err := r.valueType()
			if err != nil {
				return nil, err
			}
			seg.Type = et
		}
	} else {
		if !isPassiveOrDeclarative || hasTableIndex {
			kind, err := r.byte()
			if err != nil {
				return nil, err
			}
			if kind != 0x00 {
				return nil, errors.New("unsupported elemkind")
			}
			seg.Type = wasm.RefTypeFuncref
		}
	}
	if seg.Type == wasm.RefTypeExternref && !enabledFeatures.Get(wasm.FeatureReferenceTypes) {
		return nil, errors.New("externref element requires reference-types feature")
	}

	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	seg.Init = make([]int64, count)
	for i := range seg.Init {
		if usesExprs {
			expr, err := decodeConstantExpression(r)
			if err != nil {
				return nil, err
			}
			switch expr.Opcode {
			case wasm.OpcodeRefFunc:
				v, _, _ := leb128.DecodeInt32(expr.Data, 0)
				seg.Init[i] = int64(v)
			case wasm.OpcodeRefNull:
				seg.Init[i] = -1
			default:
				return nil, errors.New("unsupported element expression opcode")
			}
		} else {
			idx, err := r.u32()
			if err != nil {
				return nil, err
			}
			seg.Init[i] = int64(idx)
		}
	}
	return seg, nil
}

func decodeCodeSection(r *reader, m *wasm.Module) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "code section count")
	}
	m.CodeSection = make([]*wasm.Function, count)
	for i := range m.CodeSection {
		bodySize, err := r.u32()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "code[%d]: body size", i)
		}
		bodyStart := r.offset
		bodyEnd := bodyStart + uint64(bodySize)
		if bodyEnd > uint64(len(r.buf)) {
			return errors.Wrapf(wasm.ErrInvalidModule, "code[%d]: body size exceeds section", i)
		}
		body := r.buf[bodyStart:bodyEnd]
		br := &reader{buf: body}

		localDeclCount, err := br.u32()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "code[%d]: local decl count", i)
		}
		var locals []wasm.ValueType
		for j := uint32(0); j < localDeclCount; j++ {
			n, err := br.u32()
			if err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "code[%d]: local decl[%d] count", i, j)
			}
			vt, err := br.valueType()
			if err != nil {
				return errors.Wrapf(wasm.ErrInvalidModule, "code[%d]: local decl[%d] type", i, j)
			}
			for k := uint32(0); k < n; k++ {
				locals = append(locals, vt)
			}
		}
		m.CodeSection[i] = &wasm.Function{
			LocalTypes:              locals,
			Body:                    body[br.offset:],
			BodyOffsetInCodeSection: bodyStart + br.offset,
		}
		r.offset = bodyEnd
	}
	// Type indices are copied from FunctionSection, which DecodeModule's
	// section-order check guarantees was decoded before this section (if
	// present at all).
	for i := range m.CodeSection {
		if i < len(m.FunctionSection) {
			m.CodeSection[i].TypeIndex = m.FunctionSection[i]
		}
	}
	return nil
}

func decodeDataSection(r *reader, m *wasm.Module, enabledFeatures wasm.Features) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "data section count")
	}
	m.DataSection = make([]*wasm.DataSegment, count)
	for i := range m.DataSection {
		flags, err := r.u32()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "data[%d]: flags", i)
		}
		seg := &wasm.DataSegment{}
		switch flags {
		case 0:
			seg.Mode = wasm.DataModeActive
			seg.OffsetExpr, err = decodeConstantExpression(r)
		case 1:
			if !enabledFeatures.Get(wasm.FeatureBulkMemoryOperations) {
				return errors.Wrapf(wasm.ErrInvalidModule, "data[%d]: passive data requires bulk-memory feature", i)
			}
			seg.Mode = wasm.DataModePassive
		case 2:
			seg.Mode = wasm.DataModeActive
			if seg.MemoryIndex, err = r.u32(); err == nil {
				seg.OffsetExpr, err = decodeConstantExpression(r)
			}
		default:
			return errors.Wrapf(wasm.ErrInvalidModule, "data[%d]: unknown flags %d", i, flags)
		}
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "data[%d]: %s", i, err)
		}
		n, err := r.u32()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "data[%d]: byte count", i)
		}
		init, err := r.bytes(uint64(n))
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "data[%d]: bytes", i)
		}
		seg.Init = init
		m.DataSection[i] = seg
	}
	return nil
}

func decodeTagSection(r *reader, m *wasm.Module) error {
	count, err := r.u32()
	if err != nil {
		return errors.Wrap(wasm.ErrInvalidModule, "tag section count")
	}
	m.TagSection = make([]*wasm.Tag, count)
	for i := range m.TagSection {
		typeIdx, err := r.u32()
		if err != nil {
			return errors.Wrapf(wasm.ErrInvalidModule, "tag[%d]: type index", i)
		}
		if _, err := r.byte(); err != nil { // attribute, always 0
			return errors.Wrapf(wasm.ErrInvalidModule, "tag[%d]: attribute", i)
		}
		m.TagSection[i] = &wasm.Tag{Type: typeIdx}
	}
	return nil
}

// decodeConstantExpression reads one instruction from the restricted init
// opcode set {*.const, global.get, ref.null, ref.func, end} (spec.md §3
// Invariants) and returns its opcode plus the raw immediate bytes.
func decodeConstantExpression(r *reader) (*wasm.ConstantExpression, error) {
	start := r.offset
	op, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch op {
	case wasm.OpcodeI32Const:
		if _, err = r.i32(); err != nil {
			return nil, err
		}
	case wasm.OpcodeI64Const:
		if _, err = r.i64(); err != nil {
			return nil, err
		}
	case wasm.OpcodeF32Const:
		if _, err = r.bytes(4); err != nil {
			return nil, err
		}
	case wasm.OpcodeF64Const:
		if _, err = r.bytes(8); err != nil {
			return nil, err
		}
	case wasm.OpcodeGlobalGet:
		if _, err = r.u32(); err != nil {
			return nil, err
		}
	case wasm.OpcodeRefNull:
		if _, err = r.valueType(); err != nil {
			return nil, err
		}
	case wasm.OpcodeRefFunc:
		if _, err = r.u32(); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(wasm.ErrInvalidModule, "opcode %#x not legal in a constant expression", op)
	}
	immEnd := r.offset
	end, err := r.byte()
	if err != nil {
		return nil, err
	}
	if end != wasm.OpcodeEnd {
		return nil, errors.Wrap(wasm.ErrInvalidModule, "constant expression missing terminating end")
	}
	return &wasm.ConstantExpression{Opcode: op, Data: r.buf[start+1 : immEnd]}, nil
}

// validateConstantExpressions re-checks every global.get used in an init
// expression references an already-imported global (spec.md §9's note on
// global initialization), a check naturally deferred to here since it
// needs the module's full import counts.
func validateConstantExpressions(m *wasm.Module, enabledFeatures wasm.Features) error {
	check := func(expr *wasm.ConstantExpression, what string) error {
		if expr == nil {
			return nil
		}
		if expr.Opcode == wasm.OpcodeGlobalGet {
			idx, _, _ := leb128.DecodeUint32(expr.Data, 0)
			if idx >= m.ImportGlobalCount {
				return errors.Wrapf(wasm.ErrInvalidModule, "%s: global.get(%d) must reference an imported global", what, idx)
			}
		}
		if (expr.Opcode == wasm.OpcodeRefNull && len(expr.Data) > 0 && expr.Data[0] == wasm.RefTypeExternref) ||
			expr.Opcode == wasm.OpcodeRefFunc {
			if !enabledFeatures.Get(wasm.FeatureReferenceTypes) {
				return errors.Wrapf(wasm.ErrInvalidModule, "%s: requires reference-types feature", what)
			}
		}
		return nil
	}
	for i, g := range m.GlobalSection {
		if err := check(g.Init, "global init"); err != nil {
			return errors.Wrapf(err, "global[%d]", i)
		}
	}
	for i, e := range m.ElementSection {
		if err := check(e.OffsetExpr, "element offset"); err != nil {
			return errors.Wrapf(err, "element[%d]", i)
		}
	}
	for i, d := range m.DataSection {
		if err := check(d.OffsetExpr, "data offset"); err != nil {
			return errors.Wrapf(err, "data[%d]", i)
		}
	}
	return nil
}
