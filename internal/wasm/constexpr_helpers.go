package wasm

import "github.com/wazgo/wazgo/internal/leb128"

func decodeI32(b []byte) (int32, uint64, error) { return leb128.DecodeInt32(b, 0) }
func decodeI64(b []byte) (int64, uint64, error) { return leb128.DecodeInt64(b, 0) }
func decodeU32(b []byte) (uint32, uint64, error) { return leb128.DecodeUint32(b, 0) }

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
