// Package leb128 implements the LEB Reader component: sequential LEB128,
// raw byte, and IEEE754 float reads over a cursored byte slice. All
// decoding is a pure function of the input bytes; nothing here allocates
// beyond the returned scalar.
package leb128

import (
	"math"

	"github.com/pkg/errors"
)

// ErrOverflow is returned when a LEB128 varint encodes more bits than its
// target type can hold (a 5-byte u32 encoding with any of the high 4 bits
// of the 5th byte set, or the i64/u64 equivalent at byte 10).
var ErrOverflow = errors.New("leb128: overflow")

// ErrEndOfStream is returned when the cursor runs past the end of buf
// before a complete encoding was read.
var ErrEndOfStream = errors.New("leb128: unexpected end of stream")

const (
	maxVarintLenU32 = 5
	maxVarintLenU64 = 10
)

// DecodeUint32 reads an unsigned LEB128 varint, returning the decoded value
// and the number of bytes consumed.
func DecodeUint32(buf []byte, offset uint64) (uint32, uint64, error) {
	v, n, err := decodeUint(buf, offset, 32, maxVarintLenU32)
	return uint32(v), n, err
}

// DecodeUint64 reads an unsigned LEB128 varint up to 64 bits wide.
func DecodeUint64(buf []byte, offset uint64) (uint64, uint64, error) {
	return decodeUint(buf, offset, 64, maxVarintLenU64)
}

func decodeUint(buf []byte, offset uint64, bits uint, maxLen int) (uint64, uint64, error) {
	var result uint64
	var shift uint
	var n uint64
	for {
		if offset+n >= uint64(len(buf)) {
			return 0, 0, ErrEndOfStream
		}
		b := buf[offset+n]
		n++
		if n == uint64(maxLen) {
			// Final byte: anything above the bits that fit must be zero.
			hi := b &^ byte((uint64(1)<<(bits-shift))-1)
			if hi != 0 {
				return 0, 0, ErrOverflow
			}
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, ErrOverflow
		}
	}
	return result, n, nil
}

// DecodeInt32 reads a signed LEB128 varint into an int32.
func DecodeInt32(buf []byte, offset uint64) (int32, uint64, error) {
	v, n, err := decodeInt(buf, offset, 32, maxVarintLenU32)
	return int32(v), n, err
}

// DecodeInt33AsInt64 reads a signed LEB128 varint encoded with at most 33
// significant bits (used for block-type signed immediates), sign-extended
// into an int64.
func DecodeInt33AsInt64(buf []byte, offset uint64) (int64, uint64, error) {
	return decodeInt(buf, offset, 33, 5)
}

// DecodeInt64 reads a signed LEB128 varint into an int64.
func DecodeInt64(buf []byte, offset uint64) (int64, uint64, error) {
	return decodeInt(buf, offset, 64, maxVarintLenU64)
}

func decodeInt(buf []byte, offset uint64, bits uint, maxLen int) (int64, uint64, error) {
	var result int64
	var shift uint
	var n uint64
	var b byte
	for {
		if offset+n >= uint64(len(buf)) {
			return 0, 0, ErrEndOfStream
		}
		b = buf[offset+n]
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, 0, ErrOverflow
		}
	}
	// Sign-extend any remaining bits once we've consumed fewer than `bits`.
	if shift < bits && b&0x40 != 0 {
		result |= -1 << shift
	}
	if n > uint64(maxLen) {
		return 0, 0, ErrOverflow
	}
	return result, n, nil
}

// DecodeFloat32 reads 4 raw little-endian bytes as an IEEE754 float32.
func DecodeFloat32(buf []byte, offset uint64) (float32, uint64, error) {
	if offset+4 > uint64(len(buf)) {
		return 0, 0, ErrEndOfStream
	}
	bits := uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
	return math.Float32frombits(bits), 4, nil
}

// DecodeFloat64 reads 8 raw little-endian bytes as an IEEE754 float64.
func DecodeFloat64(buf []byte, offset uint64) (float64, uint64, error) {
	if offset+8 > uint64(len(buf)) {
		return 0, 0, ErrEndOfStream
	}
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(buf[offset+uint64(i)]) << (8 * i)
	}
	return math.Float64frombits(bits), 8, nil
}

// EncodeUint32 encodes v as an unsigned LEB128 varint, appending to dst.
func EncodeUint32(dst []byte, v uint32) []byte {
	return EncodeUint64(dst, uint64(v))
}

// EncodeUint64 encodes v as an unsigned LEB128 varint, appending to dst.
func EncodeUint64(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
		} else {
			dst = append(dst, b)
			return dst
		}
	}
}

// EncodeInt32 encodes v as a signed LEB128 varint, appending to dst.
func EncodeInt32(dst []byte, v int32) []byte {
	return EncodeInt64(dst, int64(v))
}

// EncodeInt64 encodes v as a signed LEB128 varint, appending to dst.
func EncodeInt64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			dst = append(dst, b)
			return dst
		}
		dst = append(dst, b|0x80)
	}
}
