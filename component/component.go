// Package component implements the Component Model binary format decoder
// (spec.md §6, "Component binary format"): a thin collaborator that reuses
// the core Module Decoder (internal/wasm/binary) for embedded core modules
// and exposes typed descriptors for the type/canonical/alias/start/instance
// sections. It does not execute components — there is no canonical-ABI
// interpreter here — it only decodes and describes, feeding
// component/wasip2shim's name-translation shim.
package component

import (
	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/internal/wasm"
	"github.com/wazgo/wazgo/internal/wasm/binary"
)

// magic is the same 4-byte "\0asm" preamble as a core module.
var magic = [4]byte{0x00, 0x61, 0x73, 0x6d}

// componentVersion and componentLayer are the 2-byte fields that follow
// magic in a component binary: version 0x000d, layer 0x0001 (a core module
// instead carries version 0x0001, layer 0x0000).
const (
	componentVersion uint16 = 0x000d
	componentLayer   uint16 = 0x0001
)

// Section IDs of the component binary format (spec.md §6: "Section IDs 0-11
// ... core_module=1, type=7, import=10, export=11, canonical=8").
const (
	SectionIDCustom       byte = 0
	SectionIDCoreModule   byte = 1
	SectionIDCoreInstance byte = 2
	SectionIDCoreType     byte = 3
	SectionIDComponent    byte = 4
	SectionIDInstance     byte = 5
	SectionIDAlias        byte = 6
	SectionIDType         byte = 7
	SectionIDCanon        byte = 8
	SectionIDStart        byte = 9
	SectionIDImport       byte = 10
	SectionIDExport       byte = 11
)

// ErrInvalidComponent is the sentinel wrapped by every decode failure,
// mirroring wasm.ErrInvalidModule's role for the core decoder.
var ErrInvalidComponent = errors.New("invalid component")

// CoreModule is one core:module section's payload: the raw embedded module
// bytes plus, on success, its fully decoded form.
type CoreModule struct {
	Raw    []byte
	Module *wasm.Module
}

// Component is the result of decoding a component binary. Every field is a
// slice of byte-slice-backed descriptors in section order; nothing here is
// index-resolved against the others, since wazgo does not execute
// components (no canonical-ABI lifting/lowering is performed).
type Component struct {
	CoreModules []CoreModule
	Types       []TypeDescriptor
	Canonicals  []CanonDescriptor
	Aliases     []AliasDescriptor
	Instances   []InstanceDescriptor
	Imports     []ImportDescriptor
	Exports     []ExportDescriptor
	NestedRaw   [][]byte // raw bytes of any nested `component` sections, undecoded
	Start       *StartDescriptor
}

// IsComponent reports whether buf begins with the component preamble
// (magic, then version 0x000d / layer 0x0001) rather than a core module's
// (version 1 / layer 0).
func IsComponent(buf []byte) bool {
	if len(buf) < 8 {
		return false
	}
	for i, b := range magic {
		if buf[i] != b {
			return false
		}
	}
	version := uint16(buf[4]) | uint16(buf[5])<<8
	layer := uint16(buf[6]) | uint16(buf[7])<<8
	return version == componentVersion && layer == componentLayer
}

// Decode parses a component binary into a *Component. Embedded core:module
// sections are recursively decoded with internal/wasm/binary.DecodeModule
// using enabledFeatures and memoryMaxPages exactly as a top-level module
// would be, since a component's core modules are ordinary core modules.
func Decode(buf []byte, enabledFeatures wasm.Features, memoryMaxPages uint32) (*Component, error) {
	if !IsComponent(buf) {
		return nil, errors.Wrap(ErrInvalidComponent, "missing component preamble")
	}
	r := &cursor{buf: buf, offset: 8}
	c := &Component{}

	for r.remaining() > 0 {
		id, err := r.byte()
		if err != nil {
			return nil, errors.Wrap(ErrInvalidComponent, "reading section id")
		}
		size, err := r.u32()
		if err != nil {
			return nil, errors.Wrap(ErrInvalidComponent, "reading section size")
		}
		if uint64(size) > r.remaining() {
			return nil, errors.Wrapf(ErrInvalidComponent, "section %d size %d exceeds remaining input", id, size)
		}
		payload, err := r.bytes(uint64(size))
		if err != nil {
			return nil, errors.Wrap(ErrInvalidComponent, "reading section payload")
		}

		switch id {
		case SectionIDCustom:
			// Custom sections carry a name and opaque payload; neither
			// wazgo's core decoder nor this one interprets them further.
		case SectionIDCoreModule:
			m, err := binary.DecodeModule(payload, enabledFeatures, memoryMaxPages)
			if err != nil {
				return nil, errors.Wrap(err, "decoding embedded core module")
			}
			c.CoreModules = append(c.CoreModules, CoreModule{Raw: payload, Module: m})
		case SectionIDComponent:
			c.NestedRaw = append(c.NestedRaw, payload)
		case SectionIDType:
			ts, err := decodeTypeSection(payload)
			if err != nil {
				return nil, err
			}
			c.Types = append(c.Types, ts...)
		case SectionIDCanon:
			cs, err := decodeCanonSection(payload)
			if err != nil {
				return nil, err
			}
			c.Canonicals = append(c.Canonicals, cs...)
		case SectionIDAlias:
			as, err := decodeAliasSection(payload)
			if err != nil {
				return nil, err
			}
			c.Aliases = append(c.Aliases, as...)
		case SectionIDInstance, SectionIDCoreInstance:
			is, err := decodeInstanceSection(payload)
			if err != nil {
				return nil, err
			}
			c.Instances = append(c.Instances, is...)
		case SectionIDImport:
			is, err := decodeImportSection(payload)
			if err != nil {
				return nil, err
			}
			c.Imports = append(c.Imports, is...)
		case SectionIDExport:
			es, err := decodeExportSection(payload)
			if err != nil {
				return nil, err
			}
			c.Exports = append(c.Exports, es...)
		case SectionIDStart:
			sd, err := decodeStartSection(payload)
			if err != nil {
				return nil, err
			}
			c.Start = sd
		case SectionIDCoreType:
			// core:type sections describe the type of an embedded core
			// module/instance; not needed to drive the Preview-2 name
			// shim, so kept only as raw payload via Types below.
			c.Types = append(c.Types, TypeDescriptor{Kind: "core:type", Raw: payload})
		default:
			return nil, errors.Wrapf(ErrInvalidComponent, "unknown section id %d", id)
		}
	}
	return c, nil
}
