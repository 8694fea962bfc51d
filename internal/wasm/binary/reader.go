// Package binary implements the Module Decoder (spec.md §4.1): it reads a
// byte buffer, verifies magic and version, and for each section parses its
// length prefix and hands off to a sub-decoder, producing a *wasm.Module
// whose code bodies and init expressions are borrowed byte slices — no
// eager IR is built here.
package binary

import (
	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/internal/leb128"
	"github.com/wazgo/wazgo/internal/wasm"
)

// reader is a cursor over a borrowed byte slice. Every decode function is a
// pure function of (buf, offset): reading never mutates buf, and the
// reader itself holds no state but the cursor position.
type reader struct {
	buf    []byte
	offset uint64
}

func (r *reader) remaining() uint64 { return uint64(len(r.buf)) - r.offset }

func (r *reader) byte() (byte, error) {
	if r.offset >= uint64(len(r.buf)) {
		return 0, leb128.ErrEndOfStream
	}
	b := r.buf[r.offset]
	r.offset++
	return b, nil
}

func (r *reader) bytes(n uint64) ([]byte, error) {
	if r.remaining() < n {
		return nil, leb128.ErrEndOfStream
	}
	b := r.buf[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	v, n, err := leb128.DecodeUint32(r.buf, r.offset)
	if err != nil {
		return 0, err
	}
	r.offset += n
	return v, nil
}

func (r *reader) i32() (int32, error) {
	v, n, err := leb128.DecodeInt32(r.buf, r.offset)
	if err != nil {
		return 0, err
	}
	r.offset += n
	return v, nil
}

func (r *reader) i64() (int64, error) {
	v, n, err := leb128.DecodeInt64(r.buf, r.offset)
	if err != nil {
		return 0, err
	}
	r.offset += n
	return v, nil
}

func (r *reader) i33() (int64, error) {
	v, n, err := leb128.DecodeInt33AsInt64(r.buf, r.offset)
	if err != nil {
		return 0, err
	}
	r.offset += n
	return v, nil
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(uint64(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) valueType() (wasm.ValueType, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64,
		wasm.ValueTypeV128, wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		return b, nil
	default:
		return 0, errors.Wrapf(wasm.ErrInvalidModule, "invalid value type byte %#x", b)
	}
}

// limits decodes the shared Limits encoding used by table and memory types
// (spec.md §4.1): flags bit 0 selects max-present, bit 1 is the shared
// flag (accepted, ignored), bit 2 selects 64-bit addressing.
func (r *reader) limits() (wasm.Limits, error) {
	flags, err := r.u32()
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := r.u32()
	if err != nil {
		return wasm.Limits{}, err
	}
	l := wasm.Limits{
		Min:           min,
		AddressType64: flags&0x4 != 0,
		Shared:        flags&0x2 != 0,
	}
	if flags&0x1 != 0 {
		max, err := r.u32()
		if err != nil {
			return wasm.Limits{}, err
		}
		if max < min {
			return wasm.Limits{}, errors.Wrapf(wasm.ErrInvalidModule, "limits: min (%d) > max (%d)", min, max)
		}
		l.Max = &max
	}
	return l, nil
}
