package regirvm

import (
	"math"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/wazgo/wazgo/internal/regir"
	"github.com/wazgo/wazgo/internal/wasm"
)

// execDefault handles every opcode regir.Compile passed through unchanged
// (arithmetic, compares, conversions, loads, stores), reading operands
// from in.A/in.B and writing in.Dst instead of popping/pushing an operand
// stack, but otherwise identical in semantics to Tier-1's execNumeric.
func execDefault(in regir.Instr, regs []uint64, mem *wasm.MemoryInstance) error {
	a, b := regs[in.A], regs[in.B]
	switch in.Op {
	case uint16(wasm.OpcodeI32Eqz):
		regs[in.Dst] = b2u64(uint32(a) == 0)
	case uint16(wasm.OpcodeI32Eq):
		regs[in.Dst] = b2u64(uint32(a) == uint32(b))
	case uint16(wasm.OpcodeI32Ne):
		regs[in.Dst] = b2u64(uint32(a) != uint32(b))
	case uint16(wasm.OpcodeI32LtS):
		regs[in.Dst] = b2u64(int32(a) < int32(b))
	case uint16(wasm.OpcodeI32LtU):
		regs[in.Dst] = b2u64(uint32(a) < uint32(b))
	case uint16(wasm.OpcodeI32GtS):
		regs[in.Dst] = b2u64(int32(a) > int32(b))
	case uint16(wasm.OpcodeI32GtU):
		regs[in.Dst] = b2u64(uint32(a) > uint32(b))
	case uint16(wasm.OpcodeI32LeS):
		regs[in.Dst] = b2u64(int32(a) <= int32(b))
	case uint16(wasm.OpcodeI32LeU):
		regs[in.Dst] = b2u64(uint32(a) <= uint32(b))
	case uint16(wasm.OpcodeI32GeS):
		regs[in.Dst] = b2u64(int32(a) >= int32(b))
	case uint16(wasm.OpcodeI32GeU):
		regs[in.Dst] = b2u64(uint32(a) >= uint32(b))

	case uint16(wasm.OpcodeI64Eqz):
		regs[in.Dst] = b2u64(a == 0)
	case uint16(wasm.OpcodeI64Eq):
		regs[in.Dst] = b2u64(a == b)
	case uint16(wasm.OpcodeI64Ne):
		regs[in.Dst] = b2u64(a != b)
	case uint16(wasm.OpcodeI64LtS):
		regs[in.Dst] = b2u64(int64(a) < int64(b))
	case uint16(wasm.OpcodeI64LtU):
		regs[in.Dst] = b2u64(a < b)
	case uint16(wasm.OpcodeI64GtS):
		regs[in.Dst] = b2u64(int64(a) > int64(b))
	case uint16(wasm.OpcodeI64GtU):
		regs[in.Dst] = b2u64(a > b)
	case uint16(wasm.OpcodeI64LeS):
		regs[in.Dst] = b2u64(int64(a) <= int64(b))
	case uint16(wasm.OpcodeI64LeU):
		regs[in.Dst] = b2u64(a <= b)
	case uint16(wasm.OpcodeI64GeS):
		regs[in.Dst] = b2u64(int64(a) >= int64(b))
	case uint16(wasm.OpcodeI64GeU):
		regs[in.Dst] = b2u64(a >= b)

	case uint16(wasm.OpcodeF32Eq):
		regs[in.Dst] = b2u64(f32bits(a) == f32bits(b))
	case uint16(wasm.OpcodeF32Ne):
		regs[in.Dst] = b2u64(f32bits(a) != f32bits(b))
	case uint16(wasm.OpcodeF32Lt):
		regs[in.Dst] = b2u64(f32bits(a) < f32bits(b))
	case uint16(wasm.OpcodeF32Gt):
		regs[in.Dst] = b2u64(f32bits(a) > f32bits(b))
	case uint16(wasm.OpcodeF32Le):
		regs[in.Dst] = b2u64(f32bits(a) <= f32bits(b))
	case uint16(wasm.OpcodeF32Ge):
		regs[in.Dst] = b2u64(f32bits(a) >= f32bits(b))
	case uint16(wasm.OpcodeF64Eq):
		regs[in.Dst] = b2u64(f64bits(a) == f64bits(b))
	case uint16(wasm.OpcodeF64Ne):
		regs[in.Dst] = b2u64(f64bits(a) != f64bits(b))
	case uint16(wasm.OpcodeF64Lt):
		regs[in.Dst] = b2u64(f64bits(a) < f64bits(b))
	case uint16(wasm.OpcodeF64Gt):
		regs[in.Dst] = b2u64(f64bits(a) > f64bits(b))
	case uint16(wasm.OpcodeF64Le):
		regs[in.Dst] = b2u64(f64bits(a) <= f64bits(b))
	case uint16(wasm.OpcodeF64Ge):
		regs[in.Dst] = b2u64(f64bits(a) >= f64bits(b))

	case uint16(wasm.OpcodeI32Clz):
		regs[in.Dst] = uint64(bits.LeadingZeros32(uint32(a)))
	case uint16(wasm.OpcodeI32Ctz):
		regs[in.Dst] = uint64(bits.TrailingZeros32(uint32(a)))
	case uint16(wasm.OpcodeI32Popcnt):
		regs[in.Dst] = uint64(bits.OnesCount32(uint32(a)))
	case uint16(wasm.OpcodeI32Add):
		regs[in.Dst] = uint64(uint32(a) + uint32(b))
	case uint16(wasm.OpcodeI32Sub):
		regs[in.Dst] = uint64(uint32(a) - uint32(b))
	case uint16(wasm.OpcodeI32Mul):
		regs[in.Dst] = uint64(uint32(a) * uint32(b))
	case uint16(wasm.OpcodeI32DivS):
		x, y := int32(a), int32(b)
		if y == 0 {
			return wasm.ErrDivisionByZero
		}
		if x == math.MinInt32 && y == -1 {
			return wasm.ErrIntegerOverflow
		}
		regs[in.Dst] = uint64(uint32(x / y))
	case uint16(wasm.OpcodeI32DivU):
		x, y := uint32(a), uint32(b)
		if y == 0 {
			return wasm.ErrDivisionByZero
		}
		regs[in.Dst] = uint64(x / y)
	case uint16(wasm.OpcodeI32RemS):
		x, y := int32(a), int32(b)
		if y == 0 {
			return wasm.ErrDivisionByZero
		}
		if x == math.MinInt32 && y == -1 {
			regs[in.Dst] = 0
		} else {
			regs[in.Dst] = uint64(uint32(x % y))
		}
	case uint16(wasm.OpcodeI32RemU):
		x, y := uint32(a), uint32(b)
		if y == 0 {
			return wasm.ErrDivisionByZero
		}
		regs[in.Dst] = uint64(x % y)
	case uint16(wasm.OpcodeI32And):
		regs[in.Dst] = uint64(uint32(a) & uint32(b))
	case uint16(wasm.OpcodeI32Or):
		regs[in.Dst] = uint64(uint32(a) | uint32(b))
	case uint16(wasm.OpcodeI32Xor):
		regs[in.Dst] = uint64(uint32(a) ^ uint32(b))
	case uint16(wasm.OpcodeI32Shl):
		regs[in.Dst] = uint64(uint32(a) << (uint32(b) & 31))
	case uint16(wasm.OpcodeI32ShrS):
		regs[in.Dst] = uint64(uint32(int32(a) >> (uint32(b) & 31)))
	case uint16(wasm.OpcodeI32ShrU):
		regs[in.Dst] = uint64(uint32(a) >> (uint32(b) & 31))

	case uint16(wasm.OpcodeI64Clz):
		regs[in.Dst] = uint64(bits.LeadingZeros64(a))
	case uint16(wasm.OpcodeI64Ctz):
		regs[in.Dst] = uint64(bits.TrailingZeros64(a))
	case uint16(wasm.OpcodeI64Popcnt):
		regs[in.Dst] = uint64(bits.OnesCount64(a))
	case uint16(wasm.OpcodeI64Add):
		regs[in.Dst] = a + b
	case uint16(wasm.OpcodeI64Sub):
		regs[in.Dst] = a - b
	case uint16(wasm.OpcodeI64Mul):
		regs[in.Dst] = a * b
	case uint16(wasm.OpcodeI64DivS):
		x, y := int64(a), int64(b)
		if y == 0 {
			return wasm.ErrDivisionByZero
		}
		if x == math.MinInt64 && y == -1 {
			return wasm.ErrIntegerOverflow
		}
		regs[in.Dst] = uint64(x / y)
	case uint16(wasm.OpcodeI64DivU):
		if b == 0 {
			return wasm.ErrDivisionByZero
		}
		regs[in.Dst] = a / b
	case uint16(wasm.OpcodeI64RemS):
		x, y := int64(a), int64(b)
		if y == 0 {
			return wasm.ErrDivisionByZero
		}
		if x == math.MinInt64 && y == -1 {
			regs[in.Dst] = 0
		} else {
			regs[in.Dst] = uint64(x % y)
		}
	case uint16(wasm.OpcodeI64RemU):
		if b == 0 {
			return wasm.ErrDivisionByZero
		}
		regs[in.Dst] = a % b
	case uint16(wasm.OpcodeI64And):
		regs[in.Dst] = a & b
	case uint16(wasm.OpcodeI64Or):
		regs[in.Dst] = a | b
	case uint16(wasm.OpcodeI64Xor):
		regs[in.Dst] = a ^ b
	case uint16(wasm.OpcodeI64Shl):
		regs[in.Dst] = a << (b & 63)
	case uint16(wasm.OpcodeI64ShrS):
		regs[in.Dst] = uint64(int64(a) >> (b & 63))
	case uint16(wasm.OpcodeI64ShrU):
		regs[in.Dst] = a >> (b & 63)

	case uint16(wasm.OpcodeF32Add):
		regs[in.Dst] = uint64(math.Float32bits(f32bits(a) + f32bits(b)))
	case uint16(wasm.OpcodeF32Sub):
		regs[in.Dst] = uint64(math.Float32bits(f32bits(a) - f32bits(b)))
	case uint16(wasm.OpcodeF32Mul):
		regs[in.Dst] = uint64(math.Float32bits(f32bits(a) * f32bits(b)))
	case uint16(wasm.OpcodeF32Div):
		regs[in.Dst] = uint64(math.Float32bits(f32bits(a) / f32bits(b)))
	case uint16(wasm.OpcodeF32Neg):
		regs[in.Dst] = uint64(math.Float32bits(-f32bits(a)))
	case uint16(wasm.OpcodeF32Abs):
		regs[in.Dst] = uint64(math.Float32bits(float32(math.Abs(float64(f32bits(a))))))

	case uint16(wasm.OpcodeF64Add):
		regs[in.Dst] = math.Float64bits(f64bits(a) + f64bits(b))
	case uint16(wasm.OpcodeF64Sub):
		regs[in.Dst] = math.Float64bits(f64bits(a) - f64bits(b))
	case uint16(wasm.OpcodeF64Mul):
		regs[in.Dst] = math.Float64bits(f64bits(a) * f64bits(b))
	case uint16(wasm.OpcodeF64Div):
		regs[in.Dst] = math.Float64bits(f64bits(a) / f64bits(b))
	case uint16(wasm.OpcodeF64Neg):
		regs[in.Dst] = math.Float64bits(-f64bits(a))
	case uint16(wasm.OpcodeF64Abs):
		regs[in.Dst] = math.Float64bits(math.Abs(f64bits(a)))

	case uint16(wasm.OpcodeI32WrapI64):
		regs[in.Dst] = uint64(uint32(a))
	case uint16(wasm.OpcodeI64ExtendI32S):
		regs[in.Dst] = uint64(int64(int32(a)))
	case uint16(wasm.OpcodeI64ExtendI32U):
		regs[in.Dst] = uint64(uint32(a))

	case uint16(wasm.OpcodeI32Load):
		v, ok := mem.ReadUint32(uint64(a) + uint64(in.Operand))
		if !ok {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
		regs[in.Dst] = uint64(v)
	case uint16(wasm.OpcodeI64Load):
		v, ok := mem.ReadUint64(uint64(a) + uint64(in.Operand))
		if !ok {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
		regs[in.Dst] = v
	case uint16(wasm.OpcodeF32Load):
		v, ok := mem.ReadUint32(uint64(a) + uint64(in.Operand))
		if !ok {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
		regs[in.Dst] = uint64(v)
	case uint16(wasm.OpcodeF64Load):
		v, ok := mem.ReadUint64(uint64(a) + uint64(in.Operand))
		if !ok {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
		regs[in.Dst] = v
	case uint16(wasm.OpcodeI32Load8U):
		v, ok := mem.ReadByte(uint64(a) + uint64(in.Operand))
		if !ok {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
		regs[in.Dst] = uint64(v)
	case uint16(wasm.OpcodeI32Load8S):
		v, ok := mem.ReadByte(uint64(a) + uint64(in.Operand))
		if !ok {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
		regs[in.Dst] = uint64(uint32(int32(int8(v))))
	case uint16(wasm.OpcodeI32Load16U):
		v, ok := mem.ReadUint16(uint64(a) + uint64(in.Operand))
		if !ok {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
		regs[in.Dst] = uint64(v)
	case uint16(wasm.OpcodeI32Load16S):
		v, ok := mem.ReadUint16(uint64(a) + uint64(in.Operand))
		if !ok {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
		regs[in.Dst] = uint64(uint32(int32(int16(v))))

	case uint16(wasm.OpcodeI32Store):
		if !mem.WriteUint32(uint64(a)+uint64(in.Operand), uint32(b)) {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
	case uint16(wasm.OpcodeI64Store):
		if !mem.WriteUint64(uint64(a)+uint64(in.Operand), b) {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
	case uint16(wasm.OpcodeF32Store):
		if !mem.WriteUint32(uint64(a)+uint64(in.Operand), uint32(b)) {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
	case uint16(wasm.OpcodeF64Store):
		if !mem.WriteUint64(uint64(a)+uint64(in.Operand), b) {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
	case uint16(wasm.OpcodeI32Store8):
		if !mem.WriteByte(uint64(a)+uint64(in.Operand), byte(b)) {
			return wasm.ErrOutOfBoundsMemoryAccess
		}
	case uint16(wasm.OpcodeI32Store16):
		if !mem.WriteUint16(uint64(a)+uint64(in.Operand), uint16(b)) {
			return wasm.ErrOutOfBoundsMemoryAccess
		}

	default:
		return errors.Errorf("regirvm: unhandled opcode %#x", in.Op)
	}
	return nil
}
